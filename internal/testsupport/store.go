package testsupport

import (
	"context"
	"testing"
	"time"

	"vigil/internal/config"
	"vigil/internal/crisis"
)

// MustOpenStore opens a crisis.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *crisis.Store {
	t.Helper()

	store, err := crisis.Open(cfg)
	if err != nil {
		t.Fatalf("crisis.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewOpenCase creates an open case for tests using the provided store.
func NewOpenCase(t testing.TB, store *crisis.Store, userID string, tier crisis.Tier, now time.Time) *crisis.Case {
	t.Helper()

	c, err := store.CreateCase(context.Background(), userID, tier, nil, now)
	if err != nil {
		t.Fatalf("store.CreateCase: %v", err)
	}
	return c
}
