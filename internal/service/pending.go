package service

import (
	"context"
	"strings"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/fetch"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/resultcache"
)

// DefaultPendingScan is the number of inbox messages a pending query
// considers when no limit is given.
const DefaultPendingScan = 200

// PendingRequest selects the untriaged inbox mail to summarize.
type PendingRequest struct {
	// Days defaults DateFrom when it is nil.
	Days     int
	DateFrom *time.Time
	// Limit caps the inbox messages scanned, newest first.
	Limit int
}

// PendingDomain is one sender domain with untriaged mail.
type PendingDomain struct {
	mailstore.DomainCount
	Category string `json:"category,omitempty"`
}

// PendingResult groups untriaged inbox mail by sender domain.
type PendingResult struct {
	Since        time.Time       `json:"since"`
	Domains      []PendingDomain `json:"domains"`
	TotalPending int             `json:"total_pending"`
	TotalScanned int             `json:"total_scanned"`
	// ScanTruncated reports that older messages inside the window were not
	// considered.
	ScanTruncated bool `json:"scan_truncated"`
}

// Pending summarizes inbox mail that carries no triage status, grouped by
// sender domain with counts and sample subjects. Stores that implement
// mailstore.PendingCounter aggregate natively; others are scanned.
func (s *Service) Pending(ctx context.Context, req PendingRequest) (*PendingResult, error) {
	since := s.since(req.DateFrom, req.Days)
	scan := s.pendingScan(req.Limit)

	summary, err := s.countPending(ctx, mailstore.PendingQuery{Since: since, ScanLimit: scan})
	if err != nil {
		return nil, err
	}
	res := &PendingResult{
		Since:         since,
		Domains:       make([]PendingDomain, len(summary.Domains)),
		TotalScanned:  summary.Scanned,
		ScanTruncated: summary.Truncated,
	}
	for i, dc := range summary.Domains {
		res.Domains[i] = PendingDomain{DomainCount: dc, Category: s.categories[dc.Domain]}
		res.TotalPending += dc.Count
	}
	return res, nil
}

func (s *Service) countPending(ctx context.Context, q mailstore.PendingQuery) (*mailstore.PendingSummary, error) {
	store, err := s.session.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	if pc, ok := store.(mailstore.PendingCounter); ok {
		return pc.CountPending(ctx, q)
	}
	fr, err := s.scanInbox(ctx, q.Since, q.Domain, q.ScanLimit)
	if err != nil {
		return nil, err
	}
	return &mailstore.PendingSummary{
		Domains:   mailstore.CountPending(fr.Messages),
		Scanned:   len(fr.Messages),
		Truncated: fr.Truncated,
	}, nil
}

// scanInbox lists the newest inbox messages since the given time, optionally
// from one sender domain.
func (s *Service) scanInbox(ctx context.Context, since time.Time, domain string, limit int) (*fetch.Result, error) {
	crit := filter.Criteria{DateFrom: &since, SenderDomain: domain}
	return s.fetcher.Fetch(ctx, fetch.Request{Folder: mailstore.FolderInbox, Criteria: crit, Limit: limit})
}

// PendingEmailsRequest lists the untriaged mail from one sender domain.
type PendingEmailsRequest struct {
	Domain   string
	Days     int
	DateFrom *time.Time
	Limit    int
	Output   Output
}

// PendingEmails returns the untriaged inbox messages from one domain,
// newest first.
func (s *Service) PendingEmails(ctx context.Context, req PendingEmailsRequest) (*resultcache.Envelope, error) {
	domain, err := cleanDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	limit := s.limit(req.Limit)
	pending, truncated, err := s.pendingFrom(ctx, domain, s.since(req.DateFrom, req.Days))
	if err != nil {
		return nil, err
	}
	if len(pending) > limit {
		pending, truncated = pending[:limit], true
	}
	items, err := summarizeAll(pending)
	if err != nil {
		return nil, err
	}
	extra := map[string]any{"domain": domain}
	if c := s.categories[domain]; c != "" {
		extra["category"] = c
	}
	return s.cache.Produce(resultcache.Payload{
		SourceTool: "get_pending_emails",
		ItemsKey:   "emails",
		Items:      items,
		Limit:      limit,
		Truncated:  truncated,
		Extra:      extra,
	}, req.Output.produceOptions())
}

// pendingFrom scans up to the maximum limit of inbox messages from domain
// and keeps the untriaged ones.
func (s *Service) pendingFrom(ctx context.Context, domain string, since time.Time) ([]*mailstore.Message, bool, error) {
	fr, err := s.scanInbox(ctx, since, domain, s.maxLimit)
	if err != nil {
		return nil, false, err
	}
	var pending []*mailstore.Message
	for _, m := range fr.Messages {
		if !mailstore.IsTriaged(m.Tags) {
			pending = append(pending, m)
		}
	}
	return pending, fr.Truncated, nil
}

// ArchiveDomainResult reports a bulk archive of one sender domain.
type ArchiveDomainResult struct {
	Success       bool     `json:"success"`
	Domain        string   `json:"domain"`
	ArchivedCount int      `json:"archived_count"`
	Failed        int      `json:"failed"`
	FailedIDs     []string `json:"failed_ids,omitempty"`
	// Truncated is set when more mail from the domain may remain pending.
	Truncated bool `json:"truncated"`
}

// ArchiveDomain marks every untriaged inbox message from domain inside the
// look-back window as archived.
func (s *Service) ArchiveDomain(ctx context.Context, domain string, days int) (*ArchiveDomainResult, error) {
	domain, err := cleanDomain(domain)
	if err != nil {
		return nil, err
	}
	pending, truncated, err := s.pendingFrom(ctx, domain, s.since(nil, days))
	if err != nil {
		return nil, err
	}
	res := &ArchiveDomainResult{Domain: domain, Truncated: truncated}
	if len(pending) > 0 {
		ids := make([]string, len(pending))
		for i, m := range pending {
			ids[i] = m.ID
		}
		batch, err := s.BatchTriage(ctx, ids, "archived")
		if err != nil {
			return nil, err
		}
		res.ArchivedCount = batch.Triaged
		res.Failed = batch.Failed
		res.FailedIDs = batch.FailedIDs
	}
	res.Success = res.Failed == 0
	s.logger.Info("archived domain", "domain", domain, "archived", res.ArchivedCount, "failed", res.Failed)
	return res, nil
}

func (s *Service) since(from *time.Time, days int) time.Time {
	if from != nil {
		return filter.StartOfDay(*from)
	}
	return filter.DaysBack(s.now(), s.days(days))
}

func (s *Service) pendingScan(n int) int {
	if n <= 0 {
		return DefaultPendingScan
	}
	return min(n, s.maxLimit)
}

func cleanDomain(d string) (string, error) {
	d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
	if d == "" {
		return "", apperr.Invalid("domain", "is required")
	}
	return d, nil
}
