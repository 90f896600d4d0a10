package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailtrail/internal/correspondence"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/resultcache"
	"github.com/wesm/mailtrail/internal/scheduler"
	"github.com/wesm/mailtrail/internal/service"
)

func TestHandleSearch(t *testing.T) {
	srv, ops, _ := newTestServer(t, "")
	ops.envelope = &resultcache.Envelope{
		Count:            1,
		LimitApplied:     10,
		ResultsTruncated: true,
		ItemsKey:         "emails",
		Items:            []resultcache.Item{{"id": "7", "subject": "Invoice"}},
		Extra:            map[string]any{"folder": "sent"},
	}

	w := serve(srv, httptest.NewRequest("GET",
		"/api/v1/search?q=invoice&folder=sent&limit=10&days=14&sender_domain=acme.com&force_inline=true", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	want := service.SearchRequest{
		Query:    "invoice",
		Folder:   mailstore.FolderSent,
		Days:     14,
		Limit:    10,
		Criteria: filter.Criteria{SenderDomain: "acme.com"},
		Output:   service.Output{ForceInline: true},
	}
	if diff := cmp.Diff(want, ops.lastSearch); diff != "" {
		t.Errorf("search request mismatch (-want +got):\n%s", diff)
	}

	resp := decode[map[string]any](t, w)
	if resp["count"] != float64(1) || resp["results_truncated"] != true || resp["folder"] != "sent" {
		t.Errorf("envelope = %v", resp)
	}
	emails, ok := resp["emails"].([]any)
	if !ok || len(emails) != 1 {
		t.Fatalf("emails = %v, want one item", resp["emails"])
	}
}

func TestHandleSearchFolderFromQuery(t *testing.T) {
	srv, ops, _ := newTestServer(t, "")

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/search?q=in:filed+invoice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ops.lastSearch.Folder != "" {
		t.Errorf("folder = %q, want empty so the query decides", ops.lastSearch.Folder)
	}
}

func TestHandleSearchBadParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"bad folder", "folder=trash"},
		{"negative limit", "limit=-1"},
		{"non-numeric days", "days=week"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ops, _ := newTestServer(t, "")
			w := serve(srv, httptest.NewRequest("GET", "/api/v1/search?"+tt.query, nil))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if resp := decode[ErrorResponse](t, w); resp.Error != "validation_error" {
				t.Errorf("error = %q, want validation_error", resp.Error)
			}
			if ops.searches != 0 {
				t.Error("search ran despite invalid parameters")
			}
		})
	}
}

func TestHandleGetMessage(t *testing.T) {
	srv, ops, _ := newTestServer(t, "")
	body := "Hello"
	ops.details = map[string]*service.EmailDetail{
		"42": {ID: "42", Subject: "Quarterly report", Body: &body},
	}

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/messages/42?max_body_length=100", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decode[service.EmailDetail](t, w)
	if got.Subject != "Quarterly report" || got.Body == nil || *got.Body != "Hello" {
		t.Errorf("detail = %+v", got)
	}
	wantOpts := service.GetOptions{IncludeBody: true, IncludeAttachments: true, MaxBodyLength: 100}
	if diff := cmp.Diff(wantOpts, ops.lastGet); diff != "" {
		t.Errorf("get options mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleGetMessageNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/messages/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if resp := decode[ErrorResponse](t, w); resp.Error != "not_found" {
		t.Errorf("error = %q, want not_found", resp.Error)
	}
}

func TestHandleListCache(t *testing.T) {
	srv, ops, _ := newTestServer(t, "")
	ops.listing = &resultcache.Listing{
		Count:       1,
		CacheDir:    "/tmp/cache",
		DaysScanned: 3,
		Files:       []resultcache.FileInfo{{Name: "search_emails_1.json", TotalItems: 30}},
	}

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/cache?days=3", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ops.listDays != 3 {
		t.Errorf("days = %d, want 3", ops.listDays)
	}
	got := decode[resultcache.Listing](t, w)
	if got.Count != 1 || len(got.Files) != 1 || got.Files[0].TotalItems != 30 {
		t.Errorf("listing = %+v", got)
	}
}

func TestHandlePending(t *testing.T) {
	srv, ops, _ := newTestServer(t, "")
	ops.pending = &service.PendingResult{
		Domains: []service.PendingDomain{{
			DomainCount: mailstore.DomainCount{Domain: "acme.com", Count: 2, SampleSubjects: []string{"a", "b"}},
			Category:    "clients",
		}},
		TotalPending: 2,
		TotalScanned: 5,
	}

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/pending?days=7&limit=500", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ops.lastPending.Days != 7 || ops.lastPending.Limit != 500 || ops.lastPending.DateFrom != nil {
		t.Errorf("request = %+v", ops.lastPending)
	}
	got := decode[service.PendingResult](t, w)
	if got.TotalPending != 2 || len(got.Domains) != 1 || got.Domains[0].Category != "clients" {
		t.Errorf("pending = %+v", got)
	}

	w = serve(srv, httptest.NewRequest("GET", "/api/v1/pending?date_from=03/01/2024", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleBackfill(t *testing.T) {
	srv, ops, _ := newTestServer(t, "")
	ops.stats = correspondence.BackfillStats{Processed: 5, Updated: 3, Skipped: 2}

	w := serve(srv, httptest.NewRequest("POST", "/api/v1/backfill", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if diff := cmp.Diff(ops.stats, decode[correspondence.BackfillStats](t, w)); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if ops.backfills != 1 {
		t.Errorf("backfills = %d, want 1", ops.backfills)
	}

	w = serve(srv, httptest.NewRequest("GET", "/api/v1/backfill", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleBackfillError(t *testing.T) {
	srv, ops, _ := newTestServer(t, "")
	ops.backfillErr = errors.New("imap: connection refused")

	w := serve(srv, httptest.NewRequest("POST", "/api/v1/backfill", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestHandleSchedulerStatus(t *testing.T) {
	srv, _, sched := newTestServer(t, "")
	next := time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)
	sched.statuses = []scheduler.JobStatus{
		{Name: scheduler.BackfillJob, Schedule: "0 2 * * *", NextRun: next},
	}

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/scheduler/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decode[SchedulerStatusResponse](t, w)
	if !got.Running {
		t.Error("running = false, want true")
	}
	if len(got.Jobs) != 1 || got.Jobs[0].Name != scheduler.BackfillJob || !got.Jobs[0].NextRun.Equal(next) {
		t.Errorf("jobs = %+v", got.Jobs)
	}
}

func TestHandleSchedulerStatusWithoutScheduler(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	srv.scheduler = nil

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/scheduler/status", nil))
	got := decode[SchedulerStatusResponse](t, w)
	if got.Running || got.Jobs == nil || len(got.Jobs) != 0 {
		t.Errorf("status = %+v, want stopped with no jobs", got)
	}
}

func TestHandleTriggerJob(t *testing.T) {
	tests := []struct {
		name      string
		job       string
		scheduled bool
		err       error
		want      int
	}{
		{"accepted", scheduler.BackfillJob, true, nil, http.StatusAccepted},
		{"unknown job", "reindex", false, nil, http.StatusNotFound},
		{"already running", scheduler.BackfillJob, true, errors.New("job backfill is already running"), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, sched := newTestServer(t, "")
			sched.scheduled[scheduler.BackfillJob] = tt.scheduled
			sched.triggerFn = func(string) error { return tt.err }

			w := serve(srv, httptest.NewRequest("POST", "/api/v1/scheduler/"+tt.job+"/trigger", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusNotFound && len(sched.triggered) != 0 {
				t.Errorf("triggered = %v, want none", sched.triggered)
			}
		})
	}
}
