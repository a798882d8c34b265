package daemonctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"triage/internal/runstore"
	"triage/internal/testsupport"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	return &Controller{
		Socket:   filepath.Join(t.TempDir(), "triage.sock"),
		Config:   testsupport.NewConfig(t),
		Interval: 5 * time.Millisecond,
	}
}

func TestStateDirPrefersLockPath(t *testing.T) {
	c := newController(t)
	if got := c.stateDir("/var/lib/triage/triage.lock"); got != "/var/lib/triage" {
		t.Fatalf("expected lock dir, got %q", got)
	}
	if got := c.stateDir(""); got != c.Config.Paths.StateDir {
		t.Fatalf("expected config state dir, got %q", got)
	}
	if got := (&Controller{}).stateDir(""); got != "" {
		t.Fatalf("expected empty dir, got %q", got)
	}
}

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "triage.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
	if _, err := ForceKillProcess(filepath.Join(dir, "missing.pid"), "", 0); err == nil {
		t.Fatal("expected error without any pid")
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readPID(path); err == nil {
		t.Fatal("expected malformed pid file error")
	}
	if pid, err := readPID(path + ".missing"); err != nil || pid != 0 {
		t.Fatalf("expected missing pid file to read as 0, got %d %v", pid, err)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	c := newController(t)
	_, err := c.Stop(context.Background(), time.Second)
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	running, pid, err := processInfo(c.Socket)
	if err != nil || running || pid != 0 {
		t.Fatalf("expected offline process info, got running=%v pid=%d err=%v", running, pid, err)
	}
}

func TestRunningRunsListsInterruptibleCycles(t *testing.T) {
	c := newController(t)
	store := testsupport.MustOpenStore(t, c.Config)
	testsupport.NewRun(t, store, 2024)
	running := testsupport.NewRunningRun(t, store, 2025, time.Now())
	store.Close()

	runs := c.runningRuns(context.Background())
	if len(runs) != 1 {
		t.Fatalf("expected one running run, got %+v", runs)
	}
	if runs[0].ID != running.ID || runs[0].CycleYear != 2025 || runs[0].Status != string(runstore.StatusRunning) {
		t.Fatalf("unexpected summary %+v", runs[0])
	}
	if (&Controller{}).runningRuns(context.Background()) != nil {
		t.Fatal("expected nil without config")
	}
}

func TestStatusOffline(t *testing.T) {
	c := newController(t)
	store := testsupport.MustOpenStore(t, c.Config)
	run := testsupport.NewRun(t, store, 2025)
	store.Close()

	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Fatal("expected offline snapshot")
	}
	if status.RunStats[string(runstore.StatusPending)] != 1 {
		t.Fatalf("expected one pending run, got %v", status.RunStats)
	}
	if status.LastRun == nil || status.LastRun.ID != run.ID || status.LastRun.CycleYear != 2025 {
		t.Fatalf("expected last run %s, got %+v", run.ID, status.LastRun)
	}
}

func TestPollReturnsLastCheckError(t *testing.T) {
	c := newController(t)
	sentinel := errors.New("socket refused")
	calls := 0
	err := c.poll(context.Background(), 30*time.Millisecond, func() (bool, error) {
		calls++
		return false, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected last check error, got %v", err)
	}
	if calls < 2 {
		t.Fatalf("expected repeated checks, got %d", calls)
	}

	calls = 0
	err = c.poll(context.Background(), time.Second, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third check, got calls=%d err=%v", calls, err)
	}
}
