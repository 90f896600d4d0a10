package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/fetch"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/resultcache"
	"github.com/wesm/mailtrail/internal/textutil"
)

const summaryPreviewLen = 200

// EmailSummary is the per-message shape returned by listing operations.
type EmailSummary struct {
	ID             string              `json:"id"`
	Subject        string              `json:"subject"`
	Sender         string              `json:"sender"`
	Domain         string              `json:"domain,omitempty"`
	Received       time.Time           `json:"received"`
	Direction      mailstore.Direction `json:"direction"`
	Folder         string              `json:"folder"`
	HasAttachments bool                `json:"has_attachments"`
	TriageStatus   string              `json:"triage_status,omitempty"`
	RecipientsTo   []string            `json:"recipients_to,omitempty"`
	RecipientsCc   []string            `json:"recipients_cc,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Preview        string              `json:"preview,omitempty"`
}

// Summarize converts a message into its listing shape.
func Summarize(m *mailstore.Message) EmailSummary {
	domain := m.SenderDomain
	if domain == "" {
		domain = mailstore.DomainOf(m.SenderEmail)
	}
	return EmailSummary{
		ID:             m.ID,
		Subject:        m.Subject,
		Sender:         formatSender(m.SenderName, m.SenderEmail),
		Domain:         domain,
		Received:       m.Received,
		Direction:      m.Direction,
		Folder:         m.Folder,
		HasAttachments: len(m.AttachmentNames) > 0,
		TriageStatus:   TriageStatusOf(m.Tags),
		RecipientsTo:   m.To,
		RecipientsCc:   m.Cc,
		ConversationID: m.ConversationID,
		Preview:        TruncateText(m.Preview, summaryPreviewLen),
	}
}

func summarizeAll(msgs []*mailstore.Message) ([]resultcache.Item, error) {
	out := make([]EmailSummary, len(msgs))
	for i, m := range msgs {
		out[i] = Summarize(m)
	}
	return resultcache.ToItems(out)
}

func formatSender(name, email string) string {
	if name == "" || strings.EqualFold(name, email) {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// TruncateText cuts s to max characters and appends how many were dropped.
// A non-positive max leaves s unchanged.
func TruncateText(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := utf8.RuneCountInString(s)
	if n <= max {
		return s
	}
	return textutil.TruncateRunes(s, max) + fmt.Sprintf("... [%d more chars]", n-max)
}

// SearchRequest is an ad-hoc search over one folder. Query, when set, is
// parsed with the operator syntax and fills any criteria left unset.
type SearchRequest struct {
	Query    string
	Criteria filter.Criteria
	Folder   mailstore.Folder
	Days     int
	Limit    int
	Output   Output
}

// SearchEmails runs one truncation-aware listing.
func (s *Service) SearchEmails(ctx context.Context, req SearchRequest) (*resultcache.Envelope, error) {
	crit := req.Criteria
	folder := req.Folder
	if strings.TrimSpace(req.Query) != "" {
		q, err := s.parser.Parse(req.Query)
		if err != nil {
			return nil, err
		}
		crit = mergeCriteria(crit, q.Criteria)
		if folder == "" {
			folder = q.Folder
		}
	}
	if folder == "" {
		folder = mailstore.FolderInbox
	}
	if crit.DateFrom != nil && crit.DateTo != nil && crit.DateTo.Before(*crit.DateFrom) {
		return nil, apperr.Invalid("date_to", "is before date_from")
	}
	crit = crit.WithLookback(s.days(req.Days), s.now())
	limit := s.limit(req.Limit)

	res, err := s.fetcher.Fetch(ctx, fetch.Request{Folder: folder, Criteria: crit, Limit: limit})
	if err != nil {
		return nil, err
	}
	items, err := summarizeAll(res.Messages)
	if err != nil {
		return nil, err
	}
	extra := map[string]any{"folder": folder}
	if res.Degraded {
		extra["filtered_in_memory"] = true
	}
	if len(res.Skipped) > 0 {
		extra["skipped"] = len(res.Skipped)
	}
	return s.cache.Produce(resultcache.Payload{
		SourceTool: "search_emails",
		ItemsKey:   "emails",
		Items:      items,
		Limit:      limit,
		Truncated:  res.Truncated,
		Extra:      extra,
	}, req.Output.produceOptions())
}

// mergeCriteria fills the unset fields of c from parsed.
func mergeCriteria(c, parsed filter.Criteria) filter.Criteria {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.SenderDomain, parsed.SenderDomain)
	fill(&c.SenderAddress, parsed.SenderAddress)
	fill(&c.RecipientDomain, parsed.RecipientDomain)
	fill(&c.RecipientAddress, parsed.RecipientAddress)
	fill(&c.Subject, parsed.Subject)
	fill(&c.Body, parsed.Body)
	if c.DateFrom == nil {
		c.DateFrom = parsed.DateFrom
	}
	if c.DateTo == nil {
		c.DateTo = parsed.DateTo
	}
	return c
}

// GetOptions shapes GetEmail output.
type GetOptions struct {
	IncludeBody        bool
	IncludeAttachments bool
	// MaxBodyLength truncates the body when positive.
	MaxBodyLength int
}

// EmailDetail is the full view of one message.
type EmailDetail struct {
	ID                string              `json:"id"`
	InternetMessageID string              `json:"internet_message_id,omitempty"`
	Subject           string              `json:"subject"`
	Sender            string              `json:"sender"`
	SenderEmail       string              `json:"sender_email"`
	Domain            string              `json:"domain,omitempty"`
	Received          time.Time           `json:"received"`
	Direction         mailstore.Direction `json:"direction"`
	Folder            string              `json:"folder"`
	To                []string            `json:"to"`
	Cc                []string            `json:"cc"`
	RecipientDomains  []string            `json:"recipient_domains,omitempty"`
	ConversationID    string              `json:"conversation_id,omitempty"`
	ConversationTopic string              `json:"conversation_topic,omitempty"`
	Tags              []string            `json:"tags,omitempty"`
	TriageStatus      string              `json:"triage_status,omitempty"`
	Body              *string             `json:"body,omitempty"`
	Attachments       []string            `json:"attachments,omitempty"`
}

// GetEmail loads one message by store id or internet message id.
func (s *Service) GetEmail(ctx context.Context, id string, opts GetOptions) (*EmailDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Invalid("email_id", "is required")
	}
	store, err := s.session.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	m, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := Summarize(m)
	d := &EmailDetail{
		ID:                m.ID,
		InternetMessageID: m.InternetMessageID,
		Subject:           m.Subject,
		Sender:            sum.Sender,
		SenderEmail:       m.SenderEmail,
		Domain:            sum.Domain,
		Received:          m.Received,
		Direction:         m.Direction,
		Folder:            m.Folder,
		To:                nonNilStrings(m.To),
		Cc:                nonNilStrings(m.Cc),
		RecipientDomains:  m.RecipientDomains,
		ConversationID:    m.ConversationID,
		ConversationTopic: m.ConversationTopic,
		Tags:              m.Tags,
		TriageStatus:      sum.TriageStatus,
	}
	if opts.IncludeBody {
		body := m.Body
		if body == "" {
			body = m.Preview
		}
		body = TruncateText(body, opts.MaxBodyLength)
		d.Body = &body
	}
	if opts.IncludeAttachments {
		d.Attachments = m.AttachmentNames
	}
	return d, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
