package testutil

import (
	"testing"

	"tapesafe/internal/core"
	"tapesafe/internal/index"
)

// NewTestStore creates an in-memory SQLite index with the schema applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T, clock core.Clock) *index.SQLiteStore {
	t.Helper()

	store, err := index.NewSQLiteStore(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
