package service

import (
	"context"
	"strings"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/mailstore"
)

// TriageTagPrefix marks the tags owned by triage.
const TriageTagPrefix = mailstore.TriageTagPrefix

// TriageStatuses lists the accepted triage statuses.
var TriageStatuses = []string{"action", "waiting", "processed", "archived"}

// TriageResult is returned by Triage and ClearTriage. Status is empty
// after a clear.
type TriageResult struct {
	Success bool     `json:"success"`
	EmailID string   `json:"email_id"`
	Status  string   `json:"status"`
	Tags    []string `json:"tags"`
}

// BatchTriageResult counts the outcome of a multi-message triage.
type BatchTriageResult struct {
	Success   bool     `json:"success"`
	Status    string   `json:"status"`
	Triaged   int      `json:"triaged"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// TriageStatusOf returns the status recorded in tags, or "".
func TriageStatusOf(tags []string) string {
	for _, t := range tags {
		if strings.HasPrefix(t, TriageTagPrefix) {
			return strings.TrimPrefix(t, TriageTagPrefix)
		}
	}
	return ""
}

func normalizeStatus(status string) (string, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	for _, s := range TriageStatuses {
		if s == status {
			return status, nil
		}
	}
	return "", apperr.Invalid("status", "must be one of %s, got %q", strings.Join(TriageStatuses, ", "), status)
}

// Triage replaces any triage tag on the message with one for status.
// Tags outside the triage prefix are preserved.
func (s *Service) Triage(ctx context.Context, id, status string) (*TriageResult, error) {
	status, err := normalizeStatus(status)
	if err != nil {
		return nil, err
	}
	store, err := s.session.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	return s.setStatus(ctx, store, id, status)
}

// ClearTriage removes the triage tag from a message, returning it to the
// pending set.
func (s *Service) ClearTriage(ctx context.Context, id string) (*TriageResult, error) {
	store, err := s.session.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	return s.setStatus(ctx, store, id, "")
}

// BatchTriage applies one status to every id. A failing id is logged and
// counted; it does not stop the batch.
func (s *Service) BatchTriage(ctx context.Context, ids []string, status string) (*BatchTriageResult, error) {
	status, err := normalizeStatus(status)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperr.Invalid("email_ids", "at least one id is required")
	}
	store, err := s.session.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	res := &BatchTriageResult{Status: status}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := s.setStatus(ctx, store, id, status); err != nil {
			s.logger.Warn("batch triage failed", "id", id, "error", err)
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, id)
			continue
		}
		res.Triaged++
	}
	res.Success = res.Failed == 0
	return res, nil
}

// setStatus rewrites the triage tag of one message. An empty status only
// removes it.
func (s *Service) setStatus(ctx context.Context, store mailstore.Store, id, status string) (*TriageResult, error) {
	m, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(m.Tags)+1)
	for _, t := range m.Tags {
		if !strings.HasPrefix(t, TriageTagPrefix) {
			tags = append(tags, t)
		}
	}
	if status != "" {
		tags = append(tags, TriageTagPrefix+status)
	}
	if err := store.SetTags(ctx, m.ID, tags); err != nil {
		return nil, err
	}
	if status == "" {
		s.logger.Info("cleared triage status", "id", m.ID)
	} else {
		s.logger.Info("triaged message", "id", m.ID, "status", status)
	}
	return &TriageResult{Success: true, EmailID: m.ID, Status: status, Tags: tags}, nil
}
