package imap

import (
	"fmt"
	"os"
	"strings"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// ResolvePassword reads the password from the configured environment
// variable.
func (c *Config) ResolvePassword() (string, error) {
	if c.PasswordEnv == "" {
		return "", fmt.Errorf("imap password_env is not set")
	}
	pw, ok := os.LookupEnv(c.PasswordEnv)
	if !ok || pw == "" {
		return "", fmt.Errorf("environment variable %s is empty", c.PasswordEnv)
	}
	return pw, nil
}

// authenticate logs in with the configured mechanism.
func authenticate(conn *imapclient.Client, cfg *Config, password string) error {
	switch strings.ToLower(cfg.Auth) {
	case AuthPlain:
		if err := conn.Authenticate(sasl.NewPlainClient("", cfg.Username, password)); err != nil {
			return fmt.Errorf("IMAP AUTHENTICATE PLAIN: %w", err)
		}
	default:
		if err := conn.Login(cfg.Username, password).Wait(); err != nil {
			return fmt.Errorf("IMAP login: %w", err)
		}
	}
	return nil
}
