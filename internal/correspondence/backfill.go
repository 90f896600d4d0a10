package correspondence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wesm/mailtrail/internal/fetch"
	"github.com/wesm/mailtrail/internal/mailstore"
)

// DefaultBackfillWindow is how many of the most recent outbound messages a
// backfill pass inspects.
const DefaultBackfillWindow = 200

// BackfillStats summarizes one backfill pass.
type BackfillStats struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Backfiller writes the derived recipient-domain field on outbound messages
// that do not carry it yet.
type Backfiller struct {
	fetcher *fetch.Fetcher
	window  int
	logger  *slog.Logger
}

// NewBackfiller creates a Backfiller inspecting the most recent window
// outbound messages.
func NewBackfiller(fetcher *fetch.Fetcher, window int) *Backfiller {
	if window <= 0 {
		window = DefaultBackfillWindow
	}
	return &Backfiller{fetcher: fetcher, window: window, logger: slog.Default()}
}

// WithLogger sets the logger for the backfiller.
func (b *Backfiller) WithLogger(logger *slog.Logger) *Backfiller {
	b.logger = logger
	return b
}

// Run performs one pass. Messages that already carry the field are left
// untouched; per-message write failures are counted and logged.
func (b *Backfiller) Run(ctx context.Context) (BackfillStats, error) {
	var stats BackfillStats
	res, err := b.fetcher.Fetch(ctx, fetch.Request{Folder: mailstore.FolderSent, Limit: b.window})
	if err != nil {
		return stats, fmt.Errorf("list outbound messages: %w", err)
	}
	store, err := b.fetcher.Session().EnsureConnected(ctx)
	if err != nil {
		return stats, err
	}

	for _, m := range res.Messages {
		stats.Processed++
		if m.RecipientDomains != nil {
			stats.Skipped++
			continue
		}
		domains := mailstore.RecipientDomainsOf(m)
		if err := store.SetRecipientDomains(ctx, m.ID, domains); err != nil {
			stats.Failed++
			b.logger.Warn("set recipient domains", "id", m.ID, "error", err)
			continue
		}
		stats.Updated++
	}
	return stats, nil
}
