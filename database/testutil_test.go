package database

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustCreateUser(t *testing.T, store Store, username string) string {
	t.Helper()

	user, err := store.CreateUser(context.Background(), username, username+"@example.com", "hash-"+username)
	if err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return user.ID
}
