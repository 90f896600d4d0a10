package apperr

import (
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"wrapped not found", fmt.Errorf("get message 42: %w", ErrNotFound), KindNotFound},
		{"filter rejected", ErrFilterRejected, KindFilterRejected},
		{"thread context", fmt.Errorf("seed: %w", ErrMissingThreadContext), KindMissingThreadContext},
		{"corrupt", fmt.Errorf("read cache: %w", ErrCacheFileCorrupt), KindCacheFileCorrupt},
		{"validation", fmt.Errorf("search: %w", Invalid("limit", "must be positive, got %d", 0)), KindValidation},
		{"other", fmt.Errorf("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := Invalid("date_to", "unrecognized date %q", "01/02/2024")
	want := `invalid date_to: unrecognized date "01/02/2024"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
