package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	line := renderStatusLine("Daemon", statusOK, "Running", false)
	if !strings.Contains(line, "Daemon:") || !strings.Contains(line, "[OK] Running") {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("expected no ANSI codes, got %q", line)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	line := renderStatusLine("Run database", statusError, "unreachable", true)
	if !strings.HasPrefix(line, ansiRed) || !strings.HasSuffix(line, ansiReset) {
		t.Fatalf("expected red line, got %q", line)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("buffers are never terminals")
	}
}

func TestRelativeTime(t *testing.T) {
	if got := relativeTime(""); got != "-" {
		t.Fatalf("expected dash for empty time, got %q", got)
	}
	if got := relativeTime("not-a-time"); got != "not-a-time" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	past := time.Now().Add(-3 * time.Hour).UTC().Format(time.RFC3339Nano)
	if got := relativeTime(past); !strings.Contains(got, "hours ago") {
		t.Fatalf("expected humanized time, got %q", got)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatCount(12345); got != "12,345" {
		t.Fatalf("formatCount = %q", got)
	}
	if got := formatPercent(1, 4); got != "25%" {
		t.Fatalf("formatPercent = %q", got)
	}
	if got := formatPercent(1, 0); got != "-" {
		t.Fatalf("formatPercent with zero total = %q", got)
	}
}

func TestRenderTableFooter(t *testing.T) {
	out := renderTable([]string{"Tier", "Count"}, [][]string{{"Interview", "3"}}, []columnAlignment{alignLeft, alignRight}, "Total", "3")
	for _, want := range []string{"TIER", "Interview", "TOTAL"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
}
