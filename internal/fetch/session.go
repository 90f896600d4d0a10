// Package fetch performs truncation-aware listing calls against a mail
// store session.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wesm/mailtrail/internal/mailstore"
)

// Session owns the connection to a store. It connects lazily and replaces
// the connection when a health probe fails.
type Session struct {
	connector mailstore.Connector
	logger    *slog.Logger

	mu    sync.Mutex
	store mailstore.Store
}

// NewSession creates a session that opens stores through connector.
func NewSession(connector mailstore.Connector) *Session {
	return &Session{connector: connector, logger: slog.Default()}
}

// WithLogger sets the logger for the session.
func (s *Session) WithLogger(logger *slog.Logger) *Session {
	s.logger = logger
	return s
}

// EnsureConnected returns a live store, probing the current connection and
// reconnecting if the probe fails.
func (s *Session) EnsureConnected(ctx context.Context) (mailstore.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		err := s.store.Ping(ctx)
		if err == nil {
			return s.store, nil
		}
		s.logger.Warn("store health check failed, reconnecting", "error", err)
		_ = s.store.Close()
		s.store = nil
	}

	store, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	s.store = store
	return store, nil
}

// Close closes the current connection, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}
