// Package memstore is an in-memory mailstore.Store used by tests and by the
// CLI's dry-run paths.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("memstore: closed")

// Store holds messages per folder. The same id may be placed in more than
// one folder; Get returns the first copy added.
type Store struct {
	mu       sync.Mutex
	folders  map[mailstore.Folder][]*mailstore.Message
	byID     map[string]*mailstore.Message
	rejected map[filter.Property]bool
	failing  map[mailstore.Folder]error
	broken   map[string]string
	pingErr  error
	closed   bool

	// Calls records every List call as "folder|expression".
	Calls []string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		folders:  make(map[mailstore.Folder][]*mailstore.Message),
		byID:     make(map[string]*mailstore.Message),
		rejected: make(map[filter.Property]bool),
		failing:  make(map[mailstore.Folder]error),
		broken:   make(map[string]string),
	}
}

// Add places messages in folder. Messages without a Direction get the
// folder's direction.
func (s *Store) Add(folder mailstore.Folder, msgs ...*mailstore.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.Direction == "" {
			m.Direction = folder.Direction()
		}
		if m.Folder == "" {
			m.Folder = string(folder)
		}
		s.folders[folder] = append(s.folders[folder], m)
		if _, ok := s.byID[m.ID]; !ok {
			s.byID[m.ID] = m
		}
	}
}

// Reject makes List fail with ErrFilterRejected for expressions that
// reference prop.
func (s *Store) Reject(prop filter.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[prop] = true
}

// FailFolder makes every List on folder return err.
func (s *Store) FailFolder(folder mailstore.Folder, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[folder] = err
}

// Break makes a message unreadable during listings; it is reported as a Skip.
func (s *Store) Break(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken[id] = reason
}

// SetPingError sets the error returned by Ping.
func (s *Store) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *Store) List(ctx context.Context, folder mailstore.Folder, expr filter.Expression, opts mailstore.ListOptions) (*mailstore.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.Calls = append(s.Calls, string(folder)+"|"+expr.Text)
	if err := s.failing[folder]; err != nil {
		return nil, err
	}
	preds, err := filter.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailstore.ErrFilterRejected, err)
	}
	for _, p := range preds {
		if s.rejected[p.Property] {
			return nil, fmt.Errorf("%w: property %s not supported", mailstore.ErrFilterRejected, p.Property)
		}
	}

	var matched []*mailstore.Message
	for _, m := range s.folders[folder] {
		if filter.MatchAll(preds, m.FilterFields()) {
			matched = append(matched, m)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if opts.Ascending {
			return matched[i].Received.Before(matched[j].Received)
		}
		return matched[i].Received.After(matched[j].Received)
	})

	out := &mailstore.Listing{}
	for _, m := range matched {
		if opts.Limit > 0 && len(out.Messages) >= opts.Limit {
			break
		}
		if reason, ok := s.broken[m.ID]; ok {
			out.Skipped = append(out.Skipped, mailstore.Skip{ID: m.ID, Reason: reason})
			continue
		}
		out.Messages = append(out.Messages, clone(m))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*mailstore.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	m, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, mailstore.ErrNotFound)
	}
	return clone(m), nil
}

func (s *Store) SetRecipientDomains(ctx context.Context, id string, domains []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("set recipient domains %s: %w", id, mailstore.ErrNotFound)
	}
	m.RecipientDomains = append([]string{}, domains...)
	return nil
}

func (s *Store) SetTags(ctx context.Context, id string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("set tags %s: %w", id, mailstore.ErrNotFound)
	}
	m.Tags = append([]string(nil), tags...)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.pingErr
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func clone(m *mailstore.Message) *mailstore.Message {
	c := *m
	c.To = append([]string(nil), m.To...)
	c.Cc = append([]string(nil), m.Cc...)
	if m.RecipientDomains != nil {
		c.RecipientDomains = append([]string{}, m.RecipientDomains...)
	}
	c.AttachmentNames = append([]string(nil), m.AttachmentNames...)
	c.Tags = append([]string(nil), m.Tags...)
	return &c
}
