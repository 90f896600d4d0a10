// Package imap adapts an IMAP mailbox to mailstore.Store.
package imap

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesm/mailtrail/internal/mailstore"
)

// Auth mechanisms.
const (
	AuthLogin = "login"
	AuthPlain = "plain"
)

// Config holds connection settings for an IMAP server.
type Config struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`      // Implicit TLS (IMAPS, port 993)
	STARTTLS bool   `toml:"starttls"` // STARTTLS upgrade (port 143)
	Username string `toml:"username"`
	// Auth is "login" (default) or "plain" (SASL PLAIN).
	Auth string `toml:"auth"`
	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `toml:"password_env"`

	Inbox string `toml:"inbox_folder"`
	Sent  string `toml:"sent_folder"`
	Filed string `toml:"filed_folder"`
}

// Addr returns the "host:port" string.
func (c *Config) Addr() string {
	port := c.Port
	if port == 0 {
		if c.TLS {
			port = 993
		} else {
			port = 143
		}
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Identifier returns a canonical string like "imaps://user@host:port".
func (c *Config) Identifier() string {
	scheme := "imap"
	if c.TLS {
		scheme = "imaps"
	}
	return fmt.Sprintf("%s://%s@%s", scheme, url.PathEscape(c.Username), c.Addr())
}

// Mailbox maps a logical folder to the server mailbox name.
func (c *Config) Mailbox(f mailstore.Folder) string {
	switch f {
	case mailstore.FolderSent:
		if c.Sent != "" {
			return c.Sent
		}
		return "Sent"
	case mailstore.FolderFiled:
		if c.Filed != "" {
			return c.Filed
		}
		return "Archive"
	default:
		if c.Inbox != "" {
			return c.Inbox
		}
		return "INBOX"
	}
}

// Folder maps a server mailbox name back to a logical folder.
func (c *Config) Folder(mailbox string) mailstore.Folder {
	for _, f := range []mailstore.Folder{mailstore.FolderSent, mailstore.FolderFiled, mailstore.FolderInbox} {
		if strings.EqualFold(c.Mailbox(f), mailbox) {
			return f
		}
	}
	return mailstore.FolderFiled
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("imap host is required")
	}
	if c.Username == "" {
		return fmt.Errorf("imap username is required")
	}
	if c.TLS && c.STARTTLS {
		return fmt.Errorf("imap tls and starttls are mutually exclusive")
	}
	switch strings.ToLower(c.Auth) {
	case "", AuthLogin, AuthPlain:
	default:
		return fmt.Errorf("imap auth must be %q or %q, got %q", AuthLogin, AuthPlain, c.Auth)
	}
	return nil
}
