package testsupport

import (
	"context"
	"testing"
	"time"

	"triage/internal/config"
	"triage/internal/runstore"
)

// MustOpenStore opens a runstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRun creates a pending run for tests using the provided store.
func NewRun(t testing.TB, store *runstore.Store, cycle int) *runstore.Run {
	t.Helper()

	run, err := store.CreateRun(context.Background(), cycle, "", time.Now())
	if err != nil {
		t.Fatalf("store.CreateRun: %v", err)
	}
	return run
}

// NewRunningRun creates and claims a run, backdating its heartbeat to heartbeatAt.
func NewRunningRun(t testing.TB, store *runstore.Store, cycle int, heartbeatAt time.Time) *runstore.Run {
	t.Helper()

	NewRun(t, store, cycle)
	run, err := store.ClaimPending(context.Background(), "test-worker", heartbeatAt)
	if err != nil || run == nil {
		t.Fatalf("store.ClaimPending: run=%v err=%v", run, err)
	}
	return run
}
