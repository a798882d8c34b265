package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"triage/internal/logs"
)

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("expected offset at end of file, got %d", result.Offset)
	}
}

func TestTailLeavesPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.log")
	if err := os.WriteFile(path, []byte("done\npart"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 0})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "done" || result.Offset != 5 {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "nope.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("expected empty result, got %#v", result)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}

	done := make(chan logs.TailResult, 1)
	go func(offset int64) {
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("follow tail error: %v", err)
		}
		done <- res
	}(result.Offset)

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	select {
	case res := <-done:
		if len(res.Lines) != 1 || res.Lines[0] != "later" {
			t.Fatalf("unexpected follow lines: %#v", res.Lines)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not return")
	}
}

func TestTailFollowTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.log")
	if err := os.WriteFile(path, []byte("only\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	start := time.Now()
	res, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 5, Follow: true, Wait: 150 * time.Millisecond})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(res.Lines) != 0 || res.Offset != 5 {
		t.Fatalf("expected no new lines, got %#v", res)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("expected follow to wait")
	}
}

func TestRender(t *testing.T) {
	line := `{"ts":"2025-03-01T12:00:00.000Z","level":"INFO","msg":"run complete","component":"orchestrator","run_id":"abc","applicants":240}`
	got := logs.Render(line)
	for _, want := range []string{"INFO", "[orchestrator]", "run complete", "applicants=240", "run_id=abc"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "ts=") || !strings.Contains(got, ":00:00 ") {
		t.Fatalf("expected the timestamp in the header, got %q", got)
	}
	if logs.Render("plain text") != "plain text" {
		t.Fatal("non-JSON lines should pass through")
	}
}

func TestMatchesRun(t *testing.T) {
	if !logs.MatchesRun(`{"run_id":"abc"}`, "abc") {
		t.Fatal("expected match")
	}
	if logs.MatchesRun(`{"run_id":"xyz"}`, "abc") || logs.MatchesRun("plain", "abc") {
		t.Fatal("expected no match")
	}
	if !logs.MatchesRun("anything", "") {
		t.Fatal("empty run id matches everything")
	}
}

func TestRunLogPath(t *testing.T) {
	got, err := logs.RunLogPath("/var/log/triage", "r1")
	if err != nil || got != filepath.Join("/var/log/triage", "runs", "r1.log") {
		t.Fatalf("RunLogPath = %q, %v", got, err)
	}
	if _, err := logs.RunLogPath("/var/log/triage", "../etc"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestDaemonLogPathFollowsPointer(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "triage-20250101T000000.000Z.log")
	if err := os.WriteFile(target, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := logs.DaemonLogPath(dir); err == nil {
		t.Fatal("expected error without pointer")
	}
	if err := os.Symlink(target, filepath.Join(dir, logs.CurrentLogName)); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	got, err := logs.DaemonLogPath(dir)
	if err != nil {
		t.Fatalf("DaemonLogPath: %v", err)
	}
	if filepath.Base(got) != filepath.Base(target) {
		t.Fatalf("expected %s, got %s", target, got)
	}
}
