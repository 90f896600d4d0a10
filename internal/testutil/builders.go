package testutil

import (
	"fmt"
	"time"

	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/store"
)

// BaseTime is the default received time of built messages.
var BaseTime = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

// MessageBuilder provides a fluent API for constructing mailstore.Message
// values in tests.
type MessageBuilder struct {
	m mailstore.Message
}

// NewMessage creates a builder with sensible defaults for an inbound
// message with the given id.
func NewMessage(id string) *MessageBuilder {
	return &MessageBuilder{
		m: mailstore.Message{
			ID:                id,
			InternetMessageID: "<" + id + "@test.local>",
			Subject:           "Test Subject",
			SenderEmail:       "sender@example.com",
			SenderDomain:      "example.com",
			Received:          BaseTime,
			Direction:         mailstore.Inbound,
			Folder:            string(mailstore.FolderInbox),
			To:                []string{"owner@home.test"},
			ConversationID:    "conv-" + id,
			ConversationTopic: "Test Subject",
		},
	}
}

func (b *MessageBuilder) From(email string) *MessageBuilder {
	b.m.SenderEmail = email
	b.m.SenderDomain = mailstore.DomainOf(email)
	return b
}

func (b *MessageBuilder) To(addrs ...string) *MessageBuilder {
	b.m.To = addrs
	return b
}

func (b *MessageBuilder) Subject(s string) *MessageBuilder {
	b.m.Subject = s
	b.m.ConversationTopic = filter.NormalizeTopic(s)
	return b
}

func (b *MessageBuilder) Body(s string) *MessageBuilder {
	b.m.Body = s
	b.m.Preview = s
	return b
}

func (b *MessageBuilder) At(t time.Time) *MessageBuilder {
	b.m.Received = t
	return b
}

// DaysAgo sets the received time to n days before BaseTime.
func (b *MessageBuilder) DaysAgo(n int) *MessageBuilder {
	b.m.Received = BaseTime.AddDate(0, 0, -n)
	return b
}

func (b *MessageBuilder) Conversation(id, topic string) *MessageBuilder {
	b.m.ConversationID = id
	b.m.ConversationTopic = topic
	return b
}

// Sent marks the message as outbound in the sent folder.
func (b *MessageBuilder) Sent() *MessageBuilder {
	b.m.Direction = mailstore.Outbound
	b.m.Folder = string(mailstore.FolderSent)
	return b
}

// Filed marks the message as living in the filed folder.
func (b *MessageBuilder) Filed() *MessageBuilder {
	b.m.Direction = mailstore.Filed
	b.m.Folder = string(mailstore.FolderFiled)
	return b
}

func (b *MessageBuilder) RecipientDomains(domains ...string) *MessageBuilder {
	if domains == nil {
		domains = []string{}
	}
	b.m.RecipientDomains = domains
	return b
}

func (b *MessageBuilder) Build() *mailstore.Message {
	m := b.m
	return &m
}

// Messages builds n inbound messages from sender, one minute apart,
// newest first, with ids prefix-0 through prefix-(n-1).
func Messages(prefix, sender string, n int) []*mailstore.Message {
	out := make([]*mailstore.Message, n)
	for i := range out {
		out[i] = NewMessage(fmt.Sprintf("%s-%d", prefix, i)).
			From(sender).
			At(BaseTime.Add(-time.Duration(i) * time.Minute)).
			Build()
	}
	return out
}

// StoreMessage converts a built message into an insert for the SQLite
// store. Recipients are taken from m.To as bare addresses.
func StoreMessage(m *mailstore.Message) *store.NewMessage {
	nm := &store.NewMessage{
		InternetMessageID: m.InternetMessageID,
		Folder:            mailstore.Folder(m.Folder),
		Direction:         m.Direction,
		Subject:           m.Subject,
		SenderName:        m.SenderName,
		SenderEmail:       m.SenderEmail,
		Received:          m.Received,
		ConversationID:    m.ConversationID,
		ConversationTopic: m.ConversationTopic,
		BodyText:          m.Body,
		RecipientDomains:  m.RecipientDomains,
	}
	for _, a := range m.To {
		nm.To = append(nm.To, store.Recipient{Address: a})
	}
	for _, a := range m.Cc {
		nm.Cc = append(nm.Cc, store.Recipient{Address: a})
	}
	return nm
}
