package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wesm/mailtrail/internal/store"
)

// NewTestStore creates a temporary database for testing.
// The database is automatically cleaned up when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})

	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return st
}

// SeedMessages inserts msgs into st and returns their row ids in order.
func SeedMessages(t *testing.T, st *store.Store, msgs ...*store.NewMessage) []string {
	t.Helper()
	ids := make([]string, 0, len(msgs))
	for i, m := range msgs {
		id, _, err := st.InsertMessage(context.Background(), m)
		if err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}
