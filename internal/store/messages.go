package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/textutil"
)

// previewLen is the number of body characters kept as a listing preview.
const previewLen = 500

// Recipient is one To or Cc entry of a stored message.
type Recipient struct {
	Address     string
	DisplayName string
}

func (r Recipient) String() string {
	if r.DisplayName == "" {
		return r.Address
	}
	return fmt.Sprintf("%s <%s>", r.DisplayName, r.Address)
}

// Attachment describes one attachment of a stored message.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
}

// NewMessage is the input to InsertMessage.
type NewMessage struct {
	InternetMessageID string
	Folder            mailstore.Folder
	Direction         mailstore.Direction
	Subject           string
	SenderName        string
	SenderEmail       string
	Received          time.Time
	To                []Recipient
	Cc                []Recipient
	ConversationID    string
	ConversationTopic string
	BodyText          string
	Attachments       []Attachment
	// RecipientDomains is written as-is when non-nil; nil leaves the
	// derived field for the backfill.
	RecipientDomains []string
	SourcePath       string
}

// InsertMessage stores m. A message with the same internet message id in
// the same folder is not inserted again; inserted reports which happened.
func (s *Store) InsertMessage(ctx context.Context, m *NewMessage) (id string, inserted bool, err error) {
	if m.Folder == "" {
		m.Folder = mailstore.FolderInbox
	}
	if m.Direction == "" {
		m.Direction = m.Folder.Direction()
	}
	if m.ConversationTopic == "" {
		m.ConversationTopic = filter.NormalizeTopic(m.Subject)
	}

	var domains sql.NullString
	if m.RecipientDomains != nil {
		domains = sql.NullString{String: strings.Join(m.RecipientDomains, ";"), Valid: true}
	}
	var msgID sql.NullString
	if m.InternetMessageID != "" {
		msgID = sql.NullString{String: m.InternetMessageID, Valid: true}
	}

	var rowID int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (
				internet_message_id, folder, direction, subject, sender_name,
				sender_email, sender_domain, received_at, conversation_id,
				conversation_topic, body_text, recipient_domains, source_path
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msgID, string(m.Folder), string(m.Direction), m.Subject, m.SenderName,
			strings.ToLower(m.SenderEmail), mailstore.DomainOf(m.SenderEmail),
			m.Received.UTC().Format(receivedLayout), m.ConversationID,
			m.ConversationTopic, m.BodyText, domains, m.SourcePath)
		if err != nil {
			return err
		}
		rowID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		for kind, list := range map[string][]Recipient{"to": m.To, "cc": m.Cc} {
			for i, r := range list {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO message_recipients (message_id, kind, position, address, display_name)
					VALUES (?, ?, ?, ?, ?)`,
					rowID, kind, i, strings.ToLower(r.Address), r.DisplayName); err != nil {
					return fmt.Errorf("insert recipient: %w", err)
				}
			}
		}
		for i, a := range m.Attachments {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO attachments (message_id, position, filename, content_type, size)
				VALUES (?, ?, ?, ?, ?)`,
				rowID, i, a.Filename, a.ContentType, a.Size); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if isSQLiteError(err, "UNIQUE constraint failed") {
			existing, lookupErr := s.idByMessageID(ctx, m.InternetMessageID, m.Folder)
			if lookupErr == nil {
				return existing, false, nil
			}
		}
		return "", false, fmt.Errorf("insert message: %w", err)
	}
	return strconv.FormatInt(rowID, 10), true, nil
}

func (s *Store) idByMessageID(ctx context.Context, internetID string, folder mailstore.Folder) (string, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE internet_message_id = ? AND folder = ?`,
		internetID, string(folder)).Scan(&id)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

const messageColumns = `m.id, COALESCE(m.internet_message_id, ''), m.folder, m.direction,
	m.subject, m.sender_name, m.sender_email, m.sender_domain, m.received_at,
	m.conversation_id, m.conversation_topic, m.body_text, m.recipient_domains`

// List implements mailstore.Store.
func (s *Store) List(ctx context.Context, folder mailstore.Folder, expr filter.Expression, opts mailstore.ListOptions) (*mailstore.Listing, error) {
	preds, err := filter.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailstore.ErrFilterRejected, err)
	}
	where, args, err := buildWhere(preds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailstore.ErrFilterRejected, err)
	}

	order := "DESC"
	if opts.Ascending {
		order = "ASC"
	}
	q := `SELECT ` + messageColumns + ` FROM messages m WHERE m.folder = ?` + where +
		` ORDER BY m.received_at ` + order + `, m.id ` + order
	args = append([]any{string(folder)}, args...)
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	listing := &mailstore.Listing{}
	for rows.Next() {
		m, skip := scanMessage(rows)
		if skip != nil {
			listing.Skipped = append(listing.Skipped, *skip)
			continue
		}
		listing.Messages = append(listing.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if err := s.hydrate(ctx, listing.Messages); err != nil {
		return nil, err
	}
	return listing, nil
}

// Get implements mailstore.Store. id may be the numeric row id or an
// internet message id.
func (s *Store) Get(ctx context.Context, id string) (*mailstore.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages m WHERE `
	var arg any
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		q += `m.id = ?`
		arg = n
	} else {
		q += `m.internet_message_id = ? ORDER BY m.id LIMIT 1`
		arg = id
	}
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get message: %w", err)
		}
		return nil, fmt.Errorf("get %s: %w", id, mailstore.ErrNotFound)
	}
	m, skip := scanMessage(rows)
	if skip != nil {
		return nil, fmt.Errorf("get %s: %s", id, skip.Reason)
	}
	rows.Close()

	msgs := []*mailstore.Message{m}
	if err := s.hydrate(ctx, msgs); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT body_text FROM messages WHERE id = ?`, m.ID).Scan(&m.Body); err != nil {
		return nil, fmt.Errorf("load body: %w", err)
	}
	return m, nil
}

// SetRecipientDomains implements mailstore.Store.
func (s *Store) SetRecipientDomains(ctx context.Context, id string, domains []string) error {
	if domains == nil {
		domains = []string{}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET recipient_domains = ? WHERE id = ?`,
		strings.Join(domains, ";"), id)
	if err != nil {
		return fmt.Errorf("set recipient domains: %w", err)
	}
	return requireRow(res, id)
}

// SetTags implements mailstore.Store.
func (s *Store) SetTags(ctx context.Context, id string, tags []string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("set tags %s: %w", id, mailstore.ErrNotFound)
		}
		return fmt.Errorf("set tags: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM message_tags WHERE message_id = ?`, id); err != nil {
			return fmt.Errorf("clear tags: %w", err)
		}
		for _, t := range tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO message_tags (message_id, tag) VALUES (?, ?)`, id, t); err != nil {
				return fmt.Errorf("insert tag: %w", err)
			}
		}
		return nil
	})
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", id, mailstore.ErrNotFound)
	}
	return nil
}

// scanMessage reads one row. A row whose timestamp cannot be parsed is
// returned as a Skip instead of failing the whole listing.
func scanMessage(rows *sql.Rows) (*mailstore.Message, *mailstore.Skip) {
	var (
		id       int64
		m        mailstore.Message
		folder   string
		dir      string
		received string
		body     string
		domains  sql.NullString
	)
	if err := rows.Scan(&id, &m.InternetMessageID, &folder, &dir, &m.Subject, &m.SenderName,
		&m.SenderEmail, &m.SenderDomain, &received, &m.ConversationID,
		&m.ConversationTopic, &body, &domains); err != nil {
		return nil, &mailstore.Skip{ID: strconv.FormatInt(id, 10), Reason: err.Error()}
	}
	m.ID = strconv.FormatInt(id, 10)
	t, err := time.Parse(receivedLayout, received)
	if err != nil {
		return nil, &mailstore.Skip{ID: m.ID, Reason: fmt.Sprintf("bad received_at %q", received)}
	}
	m.Received = t
	m.Folder = folder
	m.Direction = mailstore.Direction(dir)
	m.Preview = textutil.Preview(body, previewLen)
	if domains.Valid {
		m.RecipientDomains = []string{}
		if domains.String != "" {
			m.RecipientDomains = strings.Split(domains.String, ";")
		}
	}
	return &m, nil
}

// hydrate loads recipients, attachments and tags for msgs.
func (s *Store) hydrate(ctx context.Context, msgs []*mailstore.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*mailstore.Message, len(msgs))
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		byID[m.ID] = m
		ids[i] = m.ID
	}

	err := queryInChunks(ctx, s.db, ids,
		`SELECT message_id, kind, address, display_name FROM message_recipients
		 WHERE message_id IN (%s) ORDER BY message_id, kind, position`,
		func(rows *sql.Rows) error {
			var id, kind string
			var r Recipient
			if err := rows.Scan(&id, &kind, &r.Address, &r.DisplayName); err != nil {
				return err
			}
			m := byID[id]
			if m == nil {
				return nil
			}
			if kind == "to" {
				m.To = append(m.To, r.String())
			} else {
				m.Cc = append(m.Cc, r.String())
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	err = queryInChunks(ctx, s.db, ids,
		`SELECT message_id, filename FROM attachments WHERE message_id IN (%s) ORDER BY message_id, position`,
		func(rows *sql.Rows) error {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			if m := byID[id]; m != nil {
				m.AttachmentNames = append(m.AttachmentNames, name)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}

	err = queryInChunks(ctx, s.db, ids,
		`SELECT message_id, tag FROM message_tags WHERE message_id IN (%s) ORDER BY message_id, tag`,
		func(rows *sql.Rows) error {
			var id, tag string
			if err := rows.Scan(&id, &tag); err != nil {
				return err
			}
			if m := byID[id]; m != nil {
				m.Tags = append(m.Tags, tag)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	return nil
}
