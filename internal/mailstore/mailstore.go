// Package mailstore defines the message model and the adapter interface the
// search core uses to talk to a mail store.
package mailstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/filter"
)

var (
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = fmt.Errorf("message %w", apperr.ErrNotFound)
	// ErrFilterRejected is returned by List when the store cannot evaluate
	// the expression it was given.
	ErrFilterRejected = fmt.Errorf("store %w", apperr.ErrFilterRejected)
)

// Direction classifies a message relative to the mailbox owner.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
	Filed    Direction = "filed"
)

// Folder is a logical folder scope. Adapters map it onto their own folders.
type Folder string

const (
	FolderInbox Folder = "inbox"
	FolderSent  Folder = "sent"
	FolderFiled Folder = "filed"
)

// Direction returns the direction of messages listed from f.
func (f Folder) Direction() Direction {
	switch f {
	case FolderSent:
		return Outbound
	case FolderFiled:
		return Filed
	default:
		return Inbound
	}
}

// ParseFolder validates a folder name.
func ParseFolder(s string) (Folder, error) {
	switch f := Folder(strings.ToLower(strings.TrimSpace(s))); f {
	case FolderInbox, FolderSent, FolderFiled:
		return f, nil
	case "":
		return FolderInbox, nil
	}
	return "", apperr.Invalid("folder", "must be inbox, sent or filed, got %q", s)
}

// Message is a point-in-time view of one stored message. ID is only unique
// within one store snapshot; a move changes it.
type Message struct {
	ID                string    `json:"id"`
	InternetMessageID string    `json:"internet_message_id,omitempty"`
	Subject           string    `json:"subject"`
	SenderName        string    `json:"sender_name,omitempty"`
	SenderEmail       string    `json:"sender_email"`
	SenderDomain      string    `json:"sender_domain,omitempty"`
	Received          time.Time `json:"received"`
	Direction         Direction `json:"direction"`
	To                []string  `json:"to,omitempty"`
	Cc                []string  `json:"cc,omitempty"`
	// RecipientDomains is nil when the derived field has never been
	// written, and empty when it was computed but held no domains.
	RecipientDomains  []string `json:"recipient_domains,omitempty"`
	ConversationID    string   `json:"conversation_id,omitempty"`
	ConversationTopic string   `json:"conversation_topic,omitempty"`
	Folder            string   `json:"folder"`
	AttachmentNames   []string `json:"attachments,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Preview           string   `json:"preview,omitempty"`
	Body              string   `json:"-"`
}

// FilterFields returns the view of m used by in-memory predicate evaluation.
func (m *Message) FilterFields() filter.Fields {
	body := m.Body
	if body == "" {
		body = m.Preview
	}
	return filter.Fields{
		FromEmail:           m.SenderEmail,
		DisplayTo:           strings.Join(m.To, "; "),
		Subject:             m.Subject,
		Body:                body,
		Topic:               m.ConversationTopic,
		Received:            m.Received,
		RecipientDomains:    strings.Join(m.RecipientDomains, ";"),
		HasRecipientDomains: m.RecipientDomains != nil,
	}
}

// Skip records an item the store could not materialize during a listing.
type Skip struct {
	ID     string
	Reason string
}

// ListOptions bounds a listing call. Results are ordered by received time,
// newest first unless Ascending is set.
type ListOptions struct {
	Limit     int
	Ascending bool
}

// Listing is the result of one List call.
type Listing struct {
	Messages []*Message
	Skipped  []Skip
}

// Store is the adapter between the search core and a concrete mail store.
// Implementations must be safe for concurrent use: the correspondence
// search lists several folders at once, so an adapter holding a single
// connection serializes its operations on it.
type Store interface {
	// List returns up to opts.Limit messages in folder matching expr. It
	// returns ErrFilterRejected when expr cannot be evaluated.
	List(ctx context.Context, folder Folder, expr filter.Expression, opts ListOptions) (*Listing, error)
	// Get returns one message, or ErrNotFound.
	Get(ctx context.Context, id string) (*Message, error)
	// SetRecipientDomains writes the derived recipient-domain field.
	SetRecipientDomains(ctx context.Context, id string, domains []string) error
	// SetTags replaces the triage tags of a message.
	SetTags(ctx context.Context, id string, tags []string) error
	// Ping probes the connection.
	Ping(ctx context.Context) error
	Close() error
}

// Connector opens new Store sessions.
type Connector interface {
	Connect(ctx context.Context) (Store, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (Store, error)

func (f ConnectorFunc) Connect(ctx context.Context) (Store, error) { return f(ctx) }
