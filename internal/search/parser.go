// Package search parses the operator query syntax accepted by the CLI and
// MCP tools into filter criteria.
package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
)

// Query is a parsed search query.
type Query struct {
	Criteria filter.Criteria
	// Folder is the folder named by in:, or "" when none was given.
	Folder mailstore.Folder
}

// operatorFn applies one operator:value pair.
type operatorFn func(q *Query, value string, now time.Time) error

// setOnce assigns v to *dst, rejecting a second value for the same field.
func setOnce(dst *string, field, v string) error {
	if *dst != "" && !strings.EqualFold(*dst, v) {
		return apperr.Invalid(field, "only one value is supported, got %q and %q", *dst, v)
	}
	*dst = v
	return nil
}

var operators = map[string]operatorFn{
	"from": func(q *Query, v string, _ time.Time) error {
		v = strings.ToLower(v)
		if strings.HasPrefix(v, "@") || !strings.Contains(v, "@") {
			return setOnce(&q.Criteria.SenderDomain, "sender_domain", strings.TrimPrefix(v, "@"))
		}
		return setOnce(&q.Criteria.SenderAddress, "sender_address", v)
	},
	"to": func(q *Query, v string, _ time.Time) error {
		v = strings.ToLower(v)
		if strings.HasPrefix(v, "@") || !strings.Contains(v, "@") {
			return setOnce(&q.Criteria.RecipientDomain, "recipient_domain", strings.TrimPrefix(v, "@"))
		}
		return setOnce(&q.Criteria.RecipientAddress, "recipient_address", v)
	},
	"subject": func(q *Query, v string, _ time.Time) error {
		return setOnce(&q.Criteria.Subject, "subject", v)
	},
	"body": func(q *Query, v string, _ time.Time) error {
		return setOnce(&q.Criteria.Body, "body", v)
	},
	"in": func(q *Query, v string, _ time.Time) error {
		f, err := mailstore.ParseFolder(v)
		if err != nil {
			return err
		}
		q.Folder = f
		return nil
	},
	"after": func(q *Query, v string, _ time.Time) error {
		t, err := filter.ParseDate("date_from", v)
		if err != nil {
			return err
		}
		q.Criteria.DateFrom = t
		return nil
	},
	"before": func(q *Query, v string, _ time.Time) error {
		t, err := filter.ParseDate("date_to", v)
		if err != nil {
			return err
		}
		q.Criteria.DateTo = t
		return nil
	},
	"newer_than": func(q *Query, v string, now time.Time) error {
		t, err := parseRelativeDate(v, now)
		if err != nil {
			return err
		}
		q.Criteria.DateFrom = &t
		return nil
	},
}

// Parser holds configuration for query parsing.
type Parser struct {
	Now func() time.Time // Time source (mockable for testing)
}

// NewParser creates a Parser with default settings.
func NewParser() *Parser {
	return &Parser{Now: func() time.Time { return time.Now().UTC() }}
}

// Parse parses a query string.
//
// Supported operators:
//   - from:, to: - an address, or a domain when the value has no local part
//   - subject:, body: - substring terms
//   - in: - inbox, sent or filed
//   - after:, before: - inclusive dates (YYYY-MM-DD or RFC 3339)
//   - newer_than: - relative lower bound (e.g. 7d, 2w, 1m, 1y)
//   - Bare words and "quoted phrases" - joined into one body term
func (p *Parser) Parse(queryStr string) (*Query, error) {
	q := &Query{}
	now := time.Now().UTC()
	if p.Now != nil {
		now = p.Now()
	}

	var text []string
	for _, token := range tokenize(queryStr) {
		if isQuotedPhrase(token) {
			text = append(text, unquote(token))
			continue
		}
		if idx := strings.Index(token, ":"); idx > 0 {
			op := strings.ToLower(token[:idx])
			if handler, ok := operators[op]; ok {
				value := strings.TrimSpace(unquote(token[idx+1:]))
				if value == "" {
					return nil, apperr.Invalid(op, "empty value")
				}
				if err := handler(q, value, now); err != nil {
					return nil, err
				}
				continue
			}
		}
		text = append(text, token)
	}

	if len(text) > 0 {
		if err := setOnce(&q.Criteria.Body, "body", strings.Join(text, " ")); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Parse is a convenience function that parses using default settings.
func Parse(queryStr string) (*Query, error) {
	return NewParser().Parse(queryStr)
}

// unquote removes surrounding double quotes from a string if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// isQuotedPhrase returns true if the token is a double-quoted phrase.
func isQuotedPhrase(token string) bool {
	return len(token) > 2 && token[0] == '"' && token[len(token)-1] == '"'
}

// tokenize splits a query string, preserving quoted phrases and operator:value pairs.
// Handles cases like subject:"foo bar" where the operator and quoted value should stay together.
func tokenize(queryStr string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)
	// Track if we just saw a colon (for op:"value" handling)
	afterColon := false
	// Track if this quoted section started as op:"value" (quote immediately after colon)
	opQuoted := false

	for _, char := range queryStr {
		if (char == '"' || char == '\'') && !inQuotes {
			// Start of quoted section
			inQuotes = true
			quoteChar = char
			// If we just saw a colon, this is an op:"value" case
			opQuoted = afterColon
			// If we just saw a colon, keep building the same token (op:"value" case)
			if !afterColon && current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			// Include the quote in the token for op:"value" case
			if afterColon {
				current.WriteRune(char)
			}
			afterColon = false
		} else if char == quoteChar && inQuotes {
			// End of quoted section
			inQuotes = false
			// Check if this was an op:"value" case (quote started after colon)
			if opQuoted {
				// Include the closing quote and save the whole token
				current.WriteRune(char)
				tokens = append(tokens, current.String())
				current.Reset()
			} else if current.Len() > 0 {
				// Standalone quoted phrase (may contain colons, but not op:"value")
				tokens = append(tokens, "\""+current.String()+"\"")
				current.Reset()
			}
			quoteChar = 0
			opQuoted = false
		} else if char == ' ' && !inQuotes {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			afterColon = false
		} else {
			current.WriteRune(char)
			afterColon = (char == ':')
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

var relativeRe = regexp.MustCompile(`^(\d+)([dwmy])$`)

// parseRelativeDate parses relative dates like 7d, 2w, 1m, 1y relative to now.
func parseRelativeDate(value string, now time.Time) (time.Time, error) {
	match := relativeRe.FindStringSubmatch(strings.ToLower(value))
	if match == nil {
		return time.Time{}, apperr.Invalid("newer_than", "expected <n>[dwmy], got %q", value)
	}
	amount, _ := strconv.Atoi(match[1])
	switch match[2] {
	case "d":
		return now.AddDate(0, 0, -amount), nil
	case "w":
		return now.AddDate(0, 0, -amount*7), nil
	case "m":
		return now.AddDate(0, -amount, 0), nil
	default:
		return now.AddDate(-amount, 0, 0), nil
	}
}
