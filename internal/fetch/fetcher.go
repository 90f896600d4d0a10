package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
)

// DefaultScanLimit caps how many messages the in-memory fallback will pull
// from the store when a filter expression is rejected.
const DefaultScanLimit = 5000

// Request describes one listing call.
type Request struct {
	Folder   mailstore.Folder
	Criteria filter.Criteria
	// Expression, when set, is used instead of compiling Criteria.
	Expression *filter.Expression
	Limit      int
	// Ascending sorts oldest first. Thread reconstruction uses it; every
	// other listing is newest first.
	Ascending bool
}

// Result is the outcome of one listing call. Truncated is set when more
// than Limit messages matched.
type Result struct {
	Messages  []*mailstore.Message
	Truncated bool
	Skipped   []mailstore.Skip
	// Degraded is set when the store rejected the expression and the
	// result was filtered in memory.
	Degraded bool
}

// Fetcher issues truncation-aware listing calls.
type Fetcher struct {
	session   *Session
	logger    *slog.Logger
	scanLimit int
}

// New creates a Fetcher over session.
func New(session *Session) *Fetcher {
	return &Fetcher{session: session, logger: slog.Default(), scanLimit: DefaultScanLimit}
}

// WithLogger sets the logger for the fetcher.
func (f *Fetcher) WithLogger(logger *slog.Logger) *Fetcher {
	f.logger = logger
	return f
}

// WithScanLimit sets the fallback scan cap.
func (f *Fetcher) WithScanLimit(n int) *Fetcher {
	if n > 0 {
		f.scanLimit = n
	}
	return f
}

// Session returns the session the fetcher lists through.
func (f *Fetcher) Session() *Session {
	return f.session
}

// Fetch requests Limit+1 messages so that truncation can be detected
// without a count query, then trims to Limit.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.Limit <= 0 {
		return nil, apperr.Invalid("limit", "must be positive, got %d", req.Limit)
	}
	store, err := f.session.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}

	expr := filter.Compile(req.Criteria)
	if req.Expression != nil {
		expr = *req.Expression
	}
	opts := mailstore.ListOptions{Limit: req.Limit + 1, Ascending: req.Ascending}

	res := &Result{}
	listing, err := store.List(ctx, req.Folder, expr, opts)
	switch {
	case errors.Is(err, mailstore.ErrFilterRejected):
		f.logger.Info("store rejected filter, falling back to date-only listing",
			"folder", req.Folder, "dialect", expr.Dialect, "error", err)
		var capped bool
		listing, capped, err = f.fallback(ctx, store, req.Folder, expr, opts)
		if err != nil {
			return nil, err
		}
		res.Degraded = true
		res.Truncated = capped
	case err != nil:
		return nil, fmt.Errorf("list %s: %w", req.Folder, err)
	}

	for _, sk := range listing.Skipped {
		f.logger.Debug("skipped message", "folder", req.Folder, "id", sk.ID, "reason", sk.Reason)
	}
	res.Skipped = listing.Skipped

	msgs := listing.Messages
	sortMessages(msgs, req.Ascending)
	if len(msgs) > req.Limit {
		res.Truncated = true
		msgs = msgs[:req.Limit]
	}
	res.Messages = msgs
	return res, nil
}

// fallback lists with only the date bounds of expr and evaluates the full
// expression in memory. capped reports that the scan limit was reached
// before enough matches were found, so more matches may exist.
func (f *Fetcher) fallback(ctx context.Context, store mailstore.Store, folder mailstore.Folder, expr filter.Expression, opts mailstore.ListOptions) (listing *mailstore.Listing, capped bool, err error) {
	preds, err := filter.Parse(expr)
	if err != nil {
		return nil, false, fmt.Errorf("parse rejected filter: %w", err)
	}
	scan, err := store.List(ctx, folder, filter.DateBounds(preds), mailstore.ListOptions{
		Limit:     f.scanLimit,
		Ascending: opts.Ascending,
	})
	if err != nil {
		return nil, false, fmt.Errorf("list %s (date-only fallback): %w", folder, err)
	}

	out := &mailstore.Listing{Skipped: scan.Skipped}
	for _, m := range scan.Messages {
		if len(out.Messages) >= opts.Limit {
			break
		}
		if filter.MatchAll(preds, m.FilterFields()) {
			out.Messages = append(out.Messages, m)
		}
	}
	if len(scan.Messages) >= f.scanLimit && len(out.Messages) < opts.Limit {
		f.logger.Warn("fallback scan limit reached; results may be incomplete",
			"folder", folder, "scan_limit", f.scanLimit)
		capped = true
	}
	return out, capped, nil
}

func sortMessages(msgs []*mailstore.Message, ascending bool) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if ascending {
			return msgs[i].Received.Before(msgs[j].Received)
		}
		return msgs[i].Received.After(msgs[j].Received)
	})
}
