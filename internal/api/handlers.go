package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/scheduler"
	"github.com/wesm/mailtrail/internal/service"
)

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running bool                  `json:"running"`
	Jobs    []scheduler.JobStatus `json:"jobs"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeServiceError maps an operation error to a status code by kind.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	msg := err.Error()
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindMissingThreadContext, apperr.KindFilterRejected:
		status = http.StatusUnprocessableEntity
	default:
		s.logger.Error(op+" failed", "error", err)
		msg = "Failed to " + op
	}
	writeError(w, status, string(kind), msg)
}

// queryInt reads a non-negative integer query parameter; absent means 0.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Invalid(key, "must be a non-negative integer, got %q", v)
	}
	return n, nil
}

// handleSearch runs one folder search. The q parameter takes the operator
// syntax; structured parameters fill what it leaves unset.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var folder mailstore.Folder
	if v := q.Get("folder"); v != "" {
		f, err := mailstore.ParseFolder(v)
		if err != nil {
			s.writeServiceError(w, "search", err)
			return
		}
		folder = f
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeServiceError(w, "search", err)
		return
	}
	days, err := queryInt(r, "days")
	if err != nil {
		s.writeServiceError(w, "search", err)
		return
	}

	req := service.SearchRequest{
		Query:  q.Get("q"),
		Folder: folder,
		Days:   days,
		Limit:  limit,
		Criteria: filter.Criteria{
			SenderDomain:    q.Get("sender_domain"),
			SenderAddress:   q.Get("sender_email"),
			RecipientDomain: q.Get("recipient_domain"),
			Subject:         q.Get("subject_contains"),
			Body:            q.Get("body_contains"),
		},
		Output: service.Output{ForceInline: q.Get("force_inline") == "true"},
	}
	env, err := s.ops.SearchEmails(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// handleGetMessage returns one message with its body.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	maxBody, err := queryInt(r, "max_body_length")
	if err != nil {
		s.writeServiceError(w, "get message", err)
		return
	}
	detail, err := s.ops.GetEmail(r.Context(), chi.URLParam(r, "id"), service.GetOptions{
		IncludeBody:        true,
		IncludeAttachments: true,
		MaxBodyLength:      maxBody,
	})
	if err != nil {
		s.writeServiceError(w, "get message", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleListCache lists recent cache files.
func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		s.writeServiceError(w, "list cache", err)
		return
	}
	listing, err := s.ops.ListCache(days)
	if err != nil {
		s.writeServiceError(w, "list cache", err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// handlePending summarizes untriaged inbox mail by sender domain.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		s.writeServiceError(w, "pending", err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeServiceError(w, "pending", err)
		return
	}
	from, err := filter.ParseDate("date_from", r.URL.Query().Get("date_from"))
	if err != nil {
		s.writeServiceError(w, "pending", err)
		return
	}
	res, err := s.ops.Pending(r.Context(), service.PendingRequest{Days: days, DateFrom: from, Limit: limit})
	if err != nil {
		s.writeServiceError(w, "pending", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleBackfill runs one recipient-domain backfill pass synchronously.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ops.Backfill(r.Context())
	if err != nil {
		s.writeServiceError(w, "backfill", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSchedulerStatus returns the state of every scheduled job.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	resp := SchedulerStatusResponse{Jobs: []scheduler.JobStatus{}}
	if s.scheduler != nil {
		resp.Running = s.scheduler.IsRunning()
		if jobs := s.scheduler.Status(); jobs != nil {
			resp.Jobs = jobs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTriggerJob starts a scheduled job outside its schedule.
func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")
	if s.scheduler == nil || !s.scheduler.IsScheduled(name) {
		writeError(w, http.StatusNotFound, "not_found", "No scheduled job named "+name)
		return
	}
	if err := s.scheduler.Trigger(name); err != nil {
		writeError(w, http.StatusConflict, "trigger_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Job started: " + name,
	})
}
