// Package service implements the mailtrail operations shared by the CLI and
// the MCP server. It owns the store session and wires the fetcher,
// correspondence searcher, thread resolver and result cache together.
package service

import (
	"log/slog"
	"time"

	"github.com/wesm/mailtrail/internal/config"
	"github.com/wesm/mailtrail/internal/correspondence"
	"github.com/wesm/mailtrail/internal/fetch"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/resultcache"
	"github.com/wesm/mailtrail/internal/search"
	"github.com/wesm/mailtrail/internal/thread"
)

// Options tunes a Service. Zero values fall back to package defaults.
type Options struct {
	DefaultDays       int
	DefaultLimit      int
	MaxLimit          int
	AutoFileThreshold int
	PreviewSize       int
	BackfillWindow    int
	BackfillInterval  time.Duration
	CacheDir          string
	// DomainCategories maps a lower-case sender domain to a label shown
	// with pending mail.
	DomainCategories map[string]string
	Logger           *slog.Logger
}

// Service is the operation surface of mailtrail.
type Service struct {
	session   *fetch.Session
	fetcher   *fetch.Fetcher
	backfill  *correspondence.Backfiller
	searcher  *correspondence.Searcher
	resolver  *thread.Resolver
	cache     *resultcache.Cache
	directory *correspondence.Directory
	parser    *search.Parser
	logger    *slog.Logger
	// categories labels sender domains in pending summaries.
	categories map[string]string
	now       func() time.Time

	defaultDays  int
	defaultLimit int
	maxLimit     int
}

// New creates a Service that lists through connector.
func New(connector mailstore.Connector, dir *correspondence.Directory, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if dir == nil {
		dir = correspondence.NewDirectory(nil)
	}
	if opts.DefaultDays <= 0 {
		opts.DefaultDays = correspondence.DefaultDays
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 1000
	}

	session := fetch.NewSession(connector).WithLogger(logger)
	fetcher := fetch.New(session).WithLogger(logger)
	backfill := correspondence.NewBackfiller(fetcher, opts.BackfillWindow).WithLogger(logger)
	cache := resultcache.New(opts.CacheDir).
		WithLogger(logger).
		WithThreshold(opts.AutoFileThreshold).
		WithPreviewSize(opts.PreviewSize)

	return &Service{
		session:  session,
		fetcher:  fetcher,
		backfill: backfill,
		searcher: correspondence.NewSearcher(fetcher, backfill).
			WithLogger(logger).
			WithBackfillInterval(opts.BackfillInterval),
		resolver:     thread.NewResolver(fetcher).WithLogger(logger),
		cache:        cache,
		directory:    dir,
		parser:       search.NewParser(),
		logger:       logger,
		categories:   opts.DomainCategories,
		now:          time.Now,
		defaultDays:  opts.DefaultDays,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
	}
}

// FromConfig creates a Service using the tuning and entity registry of cfg.
func FromConfig(cfg *config.Config, connector mailstore.Connector, logger *slog.Logger) (*Service, error) {
	interval, err := cfg.BackfillInterval()
	if err != nil {
		return nil, err
	}
	return New(connector, cfg.Directory(), Options{
		DefaultDays:       cfg.Search.DefaultDays,
		DefaultLimit:      cfg.Search.DefaultLimit,
		MaxLimit:          cfg.Search.MaxLimit,
		AutoFileThreshold: cfg.Search.AutoFileThreshold,
		PreviewSize:       cfg.Search.PreviewSize,
		BackfillWindow:    cfg.Search.BackfillWindow,
		BackfillInterval:  interval,
		CacheDir:          cfg.CacheDir(),
		DomainCategories:  cfg.DomainCategoryMap(),
		Logger:            logger,
	}), nil
}

// WithClock overrides the time source used for look-back windows.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.parser.Now = now
	s.searcher.WithClock(now)
	s.cache.WithClock(now)
	return s
}

// Cache returns the result cache.
func (s *Service) Cache() *resultcache.Cache {
	return s.cache
}

// ListCache lists cache files modified within the last days.
func (s *Service) ListCache(days int) (*resultcache.Listing, error) {
	return s.cache.List(days)
}

// Directory returns the entity registry.
func (s *Service) Directory() *correspondence.Directory {
	return s.directory
}

// Close releases the store session.
func (s *Service) Close() error {
	return s.session.Close()
}

// limit applies the configured default and maximum.
func (s *Service) limit(n int) int {
	if n <= 0 {
		return s.defaultLimit
	}
	if n > s.maxLimit {
		return s.maxLimit
	}
	return n
}

func (s *Service) days(n int) int {
	if n <= 0 {
		return s.defaultDays
	}
	return n
}

// Output controls how a listing result is returned.
type Output struct {
	ForceInline bool
	OutputFile  string
	// Threshold overrides the auto-file threshold when positive.
	Threshold int
}

func (o Output) produceOptions() resultcache.ProduceOptions {
	return resultcache.ProduceOptions{ForceInline: o.ForceInline, OutputFile: o.OutputFile, Threshold: o.Threshold}
}
