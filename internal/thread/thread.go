// Package thread reconstructs conversations across folder scopes.
//
// Stores cannot filter on conversation identity, so each scope is listed by
// exact conversation topic and the candidates are then narrowed to those
// sharing the seed message's conversation id.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/fetch"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
)

// ErrMissingThreadContext is returned when the seed message lacks a
// conversation id or topic.
var ErrMissingThreadContext = fmt.Errorf("message has no conversation: %w", apperr.ErrMissingThreadContext)

// DefaultLimit is the message cap used when Options.Limit is zero.
const DefaultLimit = 50

// Options selects the scopes searched. The inbox is always searched.
type Options struct {
	IncludeSent  bool
	IncludeFiled bool
	Limit        int
}

// DefaultOptions searches inbox and sent with DefaultLimit.
func DefaultOptions() Options {
	return Options{IncludeSent: true, Limit: DefaultLimit}
}

// DateRange spans the first and last message of a thread.
type DateRange struct {
	First time.Time `json:"first"`
	Last  time.Time `json:"last"`
}

// Thread is a reconstructed conversation, oldest message first.
type Thread struct {
	ConversationID string
	Topic          string
	Messages       []*mailstore.Message
	Participants   []string
	DateRange      *DateRange
	Truncated      bool
}

// Location is the lightweight position of one thread message.
type Location struct {
	ID        string              `json:"id"`
	Folder    string              `json:"folder"`
	Direction mailstore.Direction `json:"direction"`
	Received  time.Time           `json:"received"`
}

// Resolver reconstructs threads.
type Resolver struct {
	fetcher *fetch.Fetcher
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(fetcher *fetch.Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher, logger: slog.Default()}
}

// WithLogger sets the logger for the resolver.
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// Resolve returns the thread containing seedID.
func (r *Resolver) Resolve(ctx context.Context, seedID string, opts Options) (*Thread, error) {
	if opts.Limit < 0 {
		return nil, apperr.Invalid("limit", "must be positive, got %d", opts.Limit)
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultLimit
	}

	store, err := r.fetcher.Session().EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	seed, err := store.Get(ctx, seedID)
	if err != nil {
		return nil, fmt.Errorf("load seed message: %w", err)
	}
	if seed.ConversationID == "" || seed.ConversationTopic == "" {
		return nil, fmt.Errorf("%s: %w", seedID, ErrMissingThreadContext)
	}

	scopes := []mailstore.Folder{mailstore.FolderInbox}
	if opts.IncludeSent {
		scopes = append(scopes, mailstore.FolderSent)
	}
	if opts.IncludeFiled {
		scopes = append(scopes, mailstore.FolderFiled)
	}

	t := &Thread{ConversationID: seed.ConversationID, Topic: seed.ConversationTopic}
	expr := filter.TopicEquals(seed.ConversationTopic)
	seen := make(map[string]bool)
	var merged []*mailstore.Message
	for _, folder := range scopes {
		res, err := r.fetcher.Fetch(ctx, fetch.Request{
			Folder:     folder,
			Expression: &expr,
			Limit:      opts.Limit,
			Ascending:  true,
		})
		if err != nil {
			r.logger.Warn("thread scope failed", "folder", folder, "error", err)
			continue
		}
		if res.Truncated {
			t.Truncated = true
		}
		for _, m := range res.Messages {
			if m.ConversationID != seed.ConversationID || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Received.Before(merged[j].Received)
	})
	if len(merged) > opts.Limit {
		t.Truncated = true
		merged = merged[:opts.Limit]
	}
	t.Messages = merged
	t.Participants = participants(merged)
	if len(merged) > 0 {
		t.DateRange = &DateRange{First: merged[0].Received, Last: merged[len(merged)-1].Received}
	}
	return t, nil
}

// Locations returns only the id, folder, direction and timestamp of each
// message in the thread containing seedID.
func (r *Resolver) Locations(ctx context.Context, seedID string, opts Options) ([]Location, *Thread, error) {
	t, err := r.Resolve(ctx, seedID, opts)
	if err != nil {
		return nil, nil, err
	}
	locs := make([]Location, len(t.Messages))
	for i, m := range t.Messages {
		locs[i] = Location{ID: m.ID, Folder: m.Folder, Direction: m.Direction, Received: m.Received}
	}
	return locs, t, nil
}

func participants(msgs []*mailstore.Message) []string {
	set := make(map[string]bool)
	for _, m := range msgs {
		for _, p := range mailstore.Participants(m) {
			set[p] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
