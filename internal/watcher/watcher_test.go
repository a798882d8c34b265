package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"triage/internal/runstore"
	"triage/internal/services"
	"triage/internal/watcher"
)

type recordingStarter struct {
	mu     sync.Mutex
	cycles []int
	busy   map[int]bool
}

func (s *recordingStarter) StartRun(_ context.Context, cycle int) (*runstore.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, cycle)
	if s.busy[cycle] {
		return nil, services.ErrConcurrentRun
	}
	return &runstore.Run{ID: "run", CycleYear: cycle, Status: runstore.StatusPending}, nil
}

func (s *recordingStarter) seen() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.cycles...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcherAdmitsExistingAndNewMarkers(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "2025", "APPROVED"))
	touch(t, filepath.Join(root, "notes", "APPROVED"))

	starter := &recordingStarter{}
	w, err := watcher.New(root, "APPROVED", 20*time.Millisecond, starter, nil)
	if err != nil {
		t.Fatalf("watcher.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFor(t, "startup marker", func() bool { return len(starter.seen()) == 1 })
	if got := starter.seen(); got[0] != 2025 {
		t.Fatalf("expected cycle 2025, got %v", got)
	}
	waitFor(t, "marker consumed", func() bool {
		_, err := os.Stat(filepath.Join(root, "2025", "APPROVED.consumed"))
		return err == nil
	})

	if err := os.Mkdir(filepath.Join(root, "2026"), 0o755); err != nil {
		t.Fatalf("mkdir 2026: %v", err)
	}
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)
	touch(t, filepath.Join(root, "2026", "APPROVED"))

	waitFor(t, "new marker", func() bool { return len(starter.seen()) == 2 })
	if got := starter.seen(); got[1] != 2026 {
		t.Fatalf("expected cycle 2026 second, got %v", got)
	}
}

func TestWatcherConsumesMarkerForActiveCycle(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(root, "2025", "APPROVED")
	touch(t, marker)

	starter := &recordingStarter{busy: map[int]bool{2025: true}}
	w, err := watcher.New(root, "APPROVED", 10*time.Millisecond, starter, nil)
	if err != nil {
		t.Fatalf("watcher.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFor(t, "marker consumed", func() bool {
		_, err := os.Stat(marker)
		return os.IsNotExist(err)
	})
	if got := starter.seen(); len(got) != 1 {
		t.Fatalf("expected exactly one start attempt, got %v", got)
	}
}

func TestNewRequiresStarter(t *testing.T) {
	if _, err := watcher.New(t.TempDir(), "APPROVED", 0, nil, nil); err == nil {
		t.Fatal("expected error without a starter")
	}
	if _, err := watcher.New("", "APPROVED", 0, &recordingStarter{}, nil); err == nil {
		t.Fatal("expected error without a root")
	}
}
