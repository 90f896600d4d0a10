// Package correspondence resolves all mail exchanged with an entity from its
// registered domains and contact addresses.
package correspondence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/fetch"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"golang.org/x/sync/errgroup"
)

// DefaultDays is the look-back window used when no start date is given.
const DefaultDays = 30

// maxConcurrentScopes bounds the listings in flight for one search.
const maxConcurrentScopes = 4

// Request selects the correspondence to return.
type Request struct {
	Domains  []string
	Contacts []string
	DateFrom *time.Time
	DateTo   *time.Time
	// Days defaults DateFrom when it is nil. Zero means DefaultDays.
	Days  int
	Limit int
}

// Scope reports one listing issued while resolving a request.
type Scope struct {
	Kind      string           `json:"kind"`
	Value     string           `json:"value"`
	Folder    mailstore.Folder `json:"folder"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Result is the merged, de-duplicated correspondence set.
type Result struct {
	Messages  []*mailstore.Message
	Truncated bool
	Scopes    []Scope
}

// Searcher runs correspondence searches.
type Searcher struct {
	fetcher  *fetch.Fetcher
	backfill *Backfiller
	logger   *slog.Logger
	now      func() time.Time

	interval time.Duration
	mu       sync.Mutex
	lastFill time.Time
}

// NewSearcher creates a Searcher. backfill may be nil to disable the
// recipient-domain backfill before outbound searches.
func NewSearcher(fetcher *fetch.Fetcher, backfill *Backfiller) *Searcher {
	return &Searcher{
		fetcher:  fetcher,
		backfill: backfill,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// WithLogger sets the logger for the searcher.
func (s *Searcher) WithLogger(logger *slog.Logger) *Searcher {
	s.logger = logger
	return s
}

// WithBackfillInterval limits the opportunistic backfill to once per d.
func (s *Searcher) WithBackfillInterval(d time.Duration) *Searcher {
	s.interval = d
	return s
}

// WithClock overrides the time source.
func (s *Searcher) WithClock(now func() time.Time) *Searcher {
	s.now = now
	return s
}

type scopeSpec struct {
	kind     string
	value    string
	folder   mailstore.Folder
	criteria filter.Criteria
}

// Search issues one inbound listing per domain, one per contact address and
// one outbound listing per domain, then merges them in that order keeping
// the first copy of each message id. A failing scope is logged and skipped.
func (s *Searcher) Search(ctx context.Context, req Request) (*Result, error) {
	if req.Limit <= 0 {
		return nil, apperr.Invalid("limit", "must be positive, got %d", req.Limit)
	}
	domains := cleanList(req.Domains, true)
	contacts := cleanList(req.Contacts, false)
	if len(domains) == 0 && len(contacts) == 0 {
		return nil, apperr.Invalid("domains", "at least one domain or contact address is required")
	}

	days := req.Days
	if days <= 0 {
		days = DefaultDays
	}
	window := filter.Criteria{DateFrom: req.DateFrom, DateTo: req.DateTo}.WithLookback(days, s.now())

	var specs []scopeSpec
	for _, d := range domains {
		c := window
		c.SenderDomain = d
		specs = append(specs, scopeSpec{"sender_domain", d, mailstore.FolderInbox, c})
	}
	for _, a := range contacts {
		c := window
		c.SenderAddress = a
		specs = append(specs, scopeSpec{"sender_address", a, mailstore.FolderInbox, c})
	}
	for _, d := range domains {
		c := window
		c.RecipientDomain = d
		specs = append(specs, scopeSpec{"recipient_domain", d, mailstore.FolderSent, c})
	}

	if len(domains) > 0 {
		s.maybeBackfill(ctx)
	}

	// Scopes are listed concurrently but merged in issue order.
	fetched := make([]*fetch.Result, len(specs))
	failures := make([]error, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentScopes)
	for i, spec := range specs {
		g.Go(func() error {
			fr, err := s.fetcher.Fetch(gctx, fetch.Request{Folder: spec.folder, Criteria: spec.criteria, Limit: req.Limit})
			if err != nil {
				s.logger.Warn("correspondence scope failed",
					"kind", spec.kind, "value", spec.value, "folder", spec.folder, "error", err)
				failures[i] = err
				return nil
			}
			fetched[i] = fr
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{}
	seen := make(map[string]bool)
	for i, spec := range specs {
		scope := Scope{Kind: spec.kind, Value: spec.value, Folder: spec.folder}
		if failures[i] != nil {
			scope.Error = failures[i].Error()
			res.Scopes = append(res.Scopes, scope)
			continue
		}
		fr := fetched[i]
		scope.Count = len(fr.Messages)
		scope.Truncated = fr.Truncated
		res.Scopes = append(res.Scopes, scope)
		if fr.Truncated {
			res.Truncated = true
		}
		for _, m := range fr.Messages {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			if len(res.Messages) >= req.Limit {
				res.Truncated = true
				continue
			}
			res.Messages = append(res.Messages, m)
		}
	}
	return res, nil
}

func (s *Searcher) maybeBackfill(ctx context.Context) {
	if s.backfill == nil {
		return
	}
	s.mu.Lock()
	now := s.now()
	if !s.lastFill.IsZero() && s.interval > 0 && now.Sub(s.lastFill) < s.interval {
		s.mu.Unlock()
		return
	}
	s.lastFill = now
	s.mu.Unlock()

	stats, err := s.backfill.Run(ctx)
	if err != nil {
		s.logger.Warn("recipient domain backfill failed", "error", err)
		return
	}
	if stats.Updated > 0 {
		s.logger.Info("recipient domain backfill", "processed", stats.Processed, "updated", stats.Updated)
	}
}

func cleanList(in []string, domain bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if domain {
			v = strings.TrimPrefix(v, "@")
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Entity is a named correspondent with its identifying domains and
// addresses.
type Entity struct {
	Name     string
	Domains  []string
	Contacts []string
}

// Directory looks entities up by name.
type Directory struct {
	byName map[string]Entity
}

// NewDirectory indexes entities by case-insensitive name.
func NewDirectory(entities []Entity) *Directory {
	d := &Directory{byName: make(map[string]Entity, len(entities))}
	for _, e := range entities {
		d.byName[strings.ToLower(strings.TrimSpace(e.Name))] = e
	}
	return d
}

// Lookup returns the entity registered under name.
func (d *Directory) Lookup(name string) (Entity, error) {
	e, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Entity{}, fmt.Errorf("entity %q: %w", name, apperr.ErrNotFound)
	}
	return e, nil
}

// Names returns the registered entity names.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.byName))
	for _, e := range d.byName {
		names = append(names, e.Name)
	}
	return names
}
