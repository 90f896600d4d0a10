// Package importer loads mbox exports into the SQLite mirror.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/mbox"
	"github.com/wesm/mailtrail/internal/mime"
	"github.com/wesm/mailtrail/internal/store"
)

// Options configures ImportMbox.
type Options struct {
	// Folder forces every message into one folder. When empty, messages
	// sent by an owner address go to sent and the rest to inbox.
	Folder mailstore.Folder

	// OwnerAddresses identifies the mailbox owner, case-insensitively.
	OwnerAddresses []string

	// ComputeDomains writes the recipient-domain field at import time
	// instead of leaving it for the backfill.
	ComputeDomains bool

	// MaxMessageBytes bounds a single message. Zero uses the mbox default.
	MaxMessageBytes int

	Logger *slog.Logger
}

// Summary reports the outcome of one import.
type Summary struct {
	Processed int           `json:"processed"`
	Added     int           `json:"added"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

// ImportMbox imports every message of the mbox file at path into st.
// Messages already present in the same folder are skipped. Per-message
// failures are logged and counted; only I/O and context errors abort.
func ImportMbox(ctx context.Context, st *store.Store, path string, opts Options) (*Summary, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	owners := make(map[string]bool, len(opts.OwnerAddresses))
	for _, a := range opts.OwnerAddresses {
		owners[strings.ToLower(strings.TrimSpace(a))] = true
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	if err := mbox.Validate(f, 8<<20); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek mbox: %w", err)
	}

	start := time.Now()
	sum := &Summary{}
	r := mbox.NewReader(f).WithMaxMessageBytes(opts.MaxMessageBytes)
	for {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		raw, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, mbox.ErrMessageTooLarge) {
			sum.Errors++
			log.Warn("skipping oversized message", "error", err)
			continue
		}
		if err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		sum.Processed++

		nm, err := convert(raw, owners, opts)
		if err != nil {
			sum.Errors++
			log.Warn("failed to parse message", "index", raw.Index, "error", err)
			continue
		}
		nm.SourcePath = fmt.Sprintf("%s#%d", absPath, raw.Index)

		_, inserted, err := st.InsertMessage(ctx, nm)
		if err != nil {
			sum.Errors++
			log.Warn("failed to store message", "index", raw.Index, "message_id", nm.InternetMessageID, "error", err)
			continue
		}
		if inserted {
			sum.Added++
		} else {
			sum.Skipped++
		}
	}

	sum.Duration = time.Since(start)
	log.Info("mbox import complete",
		"file", absPath,
		"processed", sum.Processed,
		"added", sum.Added,
		"skipped", sum.Skipped,
		"errors", sum.Errors,
	)
	return sum, nil
}

// convert parses one mbox entry into a store insert.
func convert(raw *mbox.Message, owners map[string]bool, opts Options) (*store.NewMessage, error) {
	msg, err := mime.Parse(raw.Raw)
	if err != nil {
		return nil, err
	}

	received := msg.Date
	if received.IsZero() {
		if t, ok := raw.Received(); ok {
			received = t
		}
	}
	if received.IsZero() {
		return nil, errors.New("message has no usable date")
	}

	folder := opts.Folder
	if folder == "" {
		folder = mailstore.FolderInbox
		if owners[msg.From.Email] {
			folder = mailstore.FolderSent
		}
	}

	nm := &store.NewMessage{
		InternetMessageID: msg.MessageID,
		Folder:            folder,
		Direction:         folder.Direction(),
		Subject:           msg.Subject,
		SenderName:        msg.From.Name,
		SenderEmail:       msg.From.Email,
		Received:          received,
		ConversationID:    msg.ConversationID(),
		ConversationTopic: msg.Topic(),
		BodyText:          msg.Body(),
	}
	for _, a := range msg.To {
		nm.To = append(nm.To, store.Recipient{Address: a.Email, DisplayName: a.Name})
	}
	for _, a := range msg.Cc {
		nm.Cc = append(nm.Cc, store.Recipient{Address: a.Email, DisplayName: a.Name})
	}
	for _, a := range msg.Attachments {
		nm.Attachments = append(nm.Attachments, store.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}

	if opts.ComputeDomains {
		view := &mailstore.Message{}
		for _, r := range nm.To {
			view.To = append(view.To, r.Address)
		}
		for _, r := range nm.Cc {
			view.Cc = append(view.Cc, r.Address)
		}
		nm.RecipientDomains = mailstore.RecipientDomainsOf(view)
	}
	return nm, nil
}
