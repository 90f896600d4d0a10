// Package api provides the HTTP server for mailtrail: the MCP streamable
// endpoint plus a small REST surface for health, search and jobs.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/wesm/mailtrail/internal/config"
	"github.com/wesm/mailtrail/internal/correspondence"
	"github.com/wesm/mailtrail/internal/resultcache"
	"github.com/wesm/mailtrail/internal/scheduler"
	"github.com/wesm/mailtrail/internal/service"
)

// Operations defines the service operations the REST routes need.
type Operations interface {
	SearchEmails(ctx context.Context, req service.SearchRequest) (*resultcache.Envelope, error)
	GetEmail(ctx context.Context, id string, opts service.GetOptions) (*service.EmailDetail, error)
	Backfill(ctx context.Context) (correspondence.BackfillStats, error)
	ListCache(days int) (*resultcache.Listing, error)
	Pending(ctx context.Context, req service.PendingRequest) (*service.PendingResult, error)
}

// JobScheduler defines the scheduler operations the API needs.
type JobScheduler interface {
	IsScheduled(name string) bool
	Trigger(name string) error
	Status() []scheduler.JobStatus
	IsRunning() bool
}

// Server represents the HTTP server.
type Server struct {
	cfg         *config.Config
	ops         Operations
	mcp         http.Handler
	scheduler   JobScheduler
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new server. mcpHandler is mounted at mcpPath when
// non-nil; sched may be nil when no jobs are configured.
func NewServer(cfg *config.Config, ops Operations, mcpHandler http.Handler, mcpPath string, sched JobScheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		ops:       ops,
		mcp:       mcpHandler,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter(mcpPath)
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(mcpPath string) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)

	corsConfig := DefaultCORSConfig()
	corsConfig.AllowedOrigins = s.cfg.Server.CORSOrigins
	r.Use(CORSMiddleware(corsConfig))

	// 10 req/sec with burst of 20
	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/healthz", s.handleHealth)

	// The MCP endpoint streams, so it sits outside the request timeout.
	if s.mcp != nil && mcpPath != "" {
		r.With(s.authMiddleware).Handle(mcpPath, s.mcp)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(chimw.Timeout(60 * time.Second))

		r.Get("/search", s.handleSearch)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Get("/cache", s.handleListCache)
		r.Get("/pending", s.handlePending)
		r.Post("/backfill", s.handleBackfill)
		r.Get("/scheduler/status", s.handleSchedulerStatus)
		r.Post("/scheduler/{job}/trigger", s.handleTriggerJob)
	})

	return r
}

// Start begins listening for HTTP requests on server.http_addr.
func (s *Server) Start() error {
	addr := s.cfg.Server.HTTPAddr
	if s.cfg.Server.APIKey == "" && !s.cfg.Server.IsLoopback() {
		s.logger.Warn("HTTP server reachable beyond localhost without authentication; set [server] api_key in config.toml", "addr", addr)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key when one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
