package imap

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/wesm/mailtrail/internal/mailstore"
)

// Option is a functional option for Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is a mailstore.Store backed by one IMAP connection.
type Client struct {
	config   *Config
	password string
	logger   *slog.Logger

	mu              sync.Mutex
	conn            *imapclient.Client
	selectedMailbox string
}

var _ mailstore.Store = (*Client)(nil)

// NewClient creates a new IMAP client. It connects lazily.
func NewClient(cfg *Config, password string, opts ...Option) *Client {
	c := &Client{
		config:   cfg,
		password: password,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connector returns a mailstore.Connector that dials cfg on each Connect.
func Connector(cfg *Config, opts ...Option) mailstore.Connector {
	return mailstore.ConnectorFunc(func(ctx context.Context) (mailstore.Store, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		pw, err := cfg.ResolvePassword()
		if err != nil {
			return nil, err
		}
		c := NewClient(cfg, pw, opts...)
		if err := c.withConn(ctx, func(*imapclient.Client) error { return nil }); err != nil {
			return nil, err
		}
		return c, nil
	})
}

// connect establishes and authenticates the IMAP connection. Caller must hold mu.
func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := c.config.Addr()
	c.logger.Debug("connecting to IMAP server", "addr", addr, "tls", c.config.TLS, "starttls", c.config.STARTTLS)

	imapOpts := &imapclient.Options{}
	var (
		conn *imapclient.Client
		err  error
	)
	switch {
	case c.config.TLS:
		conn, err = imapclient.DialTLS(addr, imapOpts)
	case c.config.STARTTLS:
		conn, err = imapclient.DialStartTLS(addr, imapOpts)
	default:
		conn, err = imapclient.DialInsecure(addr, imapOpts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := authenticate(conn, c.config, c.password); err != nil {
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.selectedMailbox = ""
	c.logger.Debug("connected and authenticated", "user", c.config.Username)
	return nil
}

// withConn runs fn with the active connection, connecting if necessary.
// It holds the mutex for the duration of fn.
func (c *Client) withConn(ctx context.Context, fn func(*imapclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return err
	}
	return fn(c.conn)
}

// selectMailbox selects a mailbox if not already selected. Caller must hold mu.
func (c *Client) selectMailbox(mailbox string) error {
	if c.selectedMailbox == mailbox {
		return nil
	}
	if _, err := c.conn.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("SELECT %q: %w", mailbox, err)
	}
	c.selectedMailbox = mailbox
	return nil
}

// Ping issues a NOOP.
func (c *Client) Ping(ctx context.Context) error {
	return c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := conn.Noop().Wait(); err != nil {
			return fmt.Errorf("NOOP: %w", err)
		}
		return nil
	})
}

// Close logs out and disconnects from the IMAP server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.selectedMailbox = ""
	return conn.Logout().Wait()
}

// compositeID builds a message identifier as "mailbox|uid".
func compositeID(mailbox string, uid imap.UID) string {
	return mailbox + "|" + strconv.FormatUint(uint64(uid), 10)
}

// parseCompositeID splits a composite message ID into mailbox and UID.
func parseCompositeID(id string) (mailbox string, uid imap.UID, err error) {
	idx := strings.LastIndexByte(id, '|')
	if idx <= 0 {
		return "", 0, fmt.Errorf("invalid IMAP message ID %q (expected mailbox|uid): %w", id, mailstore.ErrNotFound)
	}
	n, parseErr := strconv.ParseUint(id[idx+1:], 10, 32)
	if parseErr != nil || n == 0 {
		return "", 0, fmt.Errorf("invalid UID in message ID %q: %w", id, mailstore.ErrNotFound)
	}
	return id[:idx], imap.UID(n), nil
}
