package service

import (
	"context"
	"strings"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/resultcache"
	"github.com/wesm/mailtrail/internal/thread"
)

// ThreadRequest selects the scopes searched for a thread.
type ThreadRequest struct {
	IncludeSent  bool
	IncludeFiled bool
	Limit        int
	Output       Output
}

func (s *Service) threadOptions(req ThreadRequest) thread.Options {
	limit := req.Limit
	if limit <= 0 {
		limit = thread.DefaultLimit
	}
	return thread.Options{IncludeSent: req.IncludeSent, IncludeFiled: req.IncludeFiled, Limit: s.limit(limit)}
}

// Thread reconstructs the conversation containing id, oldest first.
func (s *Service) Thread(ctx context.Context, id string, req ThreadRequest) (*resultcache.Envelope, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Invalid("email_id", "is required")
	}
	opts := s.threadOptions(req)
	t, err := s.resolver.Resolve(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	items, err := summarizeAll(t.Messages)
	if err != nil {
		return nil, err
	}
	extra := map[string]any{
		"conversation_id":    t.ConversationID,
		"conversation_topic": t.Topic,
		"participants":       nonNilStrings(t.Participants),
	}
	if t.DateRange != nil {
		extra["date_range"] = t.DateRange
	}
	return s.cache.Produce(resultcache.Payload{
		SourceTool: "get_email_thread",
		ItemsKey:   "messages",
		Items:      items,
		Limit:      opts.Limit,
		Truncated:  t.Truncated,
		Extra:      extra,
	}, req.Output.produceOptions())
}

// ThreadLocations is the lightweight view of a thread.
type ThreadLocations struct {
	ConversationID   string            `json:"conversation_id"`
	Topic            string            `json:"conversation_topic"`
	Count            int               `json:"count"`
	ResultsTruncated bool              `json:"results_truncated"`
	Locations        []thread.Location `json:"locations"`
}

// ThreadLocations reports where each message of the thread containing id
// lives without loading message content.
func (s *Service) ThreadLocations(ctx context.Context, id string, req ThreadRequest) (*ThreadLocations, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Invalid("email_id", "is required")
	}
	locs, t, err := s.resolver.Locations(ctx, id, s.threadOptions(req))
	if err != nil {
		return nil, err
	}
	if locs == nil {
		locs = []thread.Location{}
	}
	return &ThreadLocations{
		ConversationID:   t.ConversationID,
		Topic:            t.Topic,
		Count:            len(locs),
		ResultsTruncated: t.Truncated,
		Locations:        locs,
	}, nil
}
