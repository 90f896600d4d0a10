package filter

import (
	"strings"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
)

// StartOfDay truncates t to midnight UTC of its calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a caller-supplied date. Only ISO forms are accepted;
// slash-separated dates are rejected because their day/month order is
// ambiguous.
func ParseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		d := StartOfDay(t.UTC())
		return &d, nil
	}
	return nil, apperr.Invalid(field, "expected YYYY-MM-DD, got %q", value)
}

// DaysBack returns the start of the day that is days before now.
func DaysBack(now time.Time, days int) time.Time {
	return StartOfDay(now.UTC().AddDate(0, 0, -days))
}
