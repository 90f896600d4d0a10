// Package apperr defines the error kinds surfaced to callers of mailtrail.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for structured responses.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindFilterRejected       Kind = "filter_rejected"
	KindMissingThreadContext Kind = "missing_thread_context"
	KindCacheFileCorrupt     Kind = "cache_file_corrupt"
	KindValidation           Kind = "validation_error"
	KindInternal             Kind = "internal"
)

// Root sentinels. Package-level sentinels elsewhere wrap one of these so that
// KindOf can classify them with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrFilterRejected       = errors.New("filter rejected")
	ErrMissingThreadContext = errors.New("missing thread context")
	ErrCacheFileCorrupt     = errors.New("cache file corrupt")
)

// ValidationError reports a bad caller-supplied argument.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Invalid is shorthand for constructing a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindInternal when it is unclassified.
func KindOf(err error) Kind {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrFilterRejected):
		return KindFilterRejected
	case errors.Is(err, ErrMissingThreadContext):
		return KindMissingThreadContext
	case errors.Is(err, ErrCacheFileCorrupt):
		return KindCacheFileCorrupt
	default:
		return KindInternal
	}
}
