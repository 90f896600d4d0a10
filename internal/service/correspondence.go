package service

import (
	"context"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/correspondence"
	"github.com/wesm/mailtrail/internal/resultcache"
)

// CorrespondenceRequest selects correspondence either by a registered
// entity name or by explicit domains and contacts. Explicit identifiers are
// added to those of the entity.
type CorrespondenceRequest struct {
	Entity   string
	Domains  []string
	Contacts []string
	DateFrom *time.Time
	DateTo   *time.Time
	Days     int
	Limit    int
	Output   Output
}

// Correspondence returns all messages exchanged with an entity.
func (s *Service) Correspondence(ctx context.Context, req CorrespondenceRequest) (*resultcache.Envelope, error) {
	domains, contacts := req.Domains, req.Contacts
	extra := map[string]any{}
	if req.Entity != "" {
		e, err := s.directory.Lookup(req.Entity)
		if err != nil {
			return nil, err
		}
		domains = append(append([]string{}, e.Domains...), domains...)
		contacts = append(append([]string{}, e.Contacts...), contacts...)
		extra["entity"] = e.Name
	}
	if len(domains) == 0 && len(contacts) == 0 {
		return nil, apperr.Invalid("entity", "an entity name or at least one domain or contact is required")
	}
	if req.DateFrom != nil && req.DateTo != nil && req.DateTo.Before(*req.DateFrom) {
		return nil, apperr.Invalid("date_to", "is before date_from")
	}

	limit := s.limit(req.Limit)
	res, err := s.searcher.Search(ctx, correspondence.Request{
		Domains:  domains,
		Contacts: contacts,
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
		Days:     s.days(req.Days),
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	items, err := summarizeAll(res.Messages)
	if err != nil {
		return nil, err
	}
	extra["identifiers"] = map[string]any{"domains": nonNilStrings(domains), "contacts": nonNilStrings(contacts)}
	extra["scopes"] = res.Scopes
	return s.cache.Produce(resultcache.Payload{
		SourceTool: "search_correspondence",
		ItemsKey:   "emails",
		Items:      items,
		Limit:      limit,
		Truncated:  res.Truncated,
		Extra:      extra,
	}, req.Output.produceOptions())
}

// Backfill runs one recipient-domain backfill pass.
func (s *Service) Backfill(ctx context.Context) (correspondence.BackfillStats, error) {
	return s.backfill.Run(ctx)
}
