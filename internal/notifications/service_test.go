package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"triage/internal/classifier"
	"triage/internal/config"
	"triage/internal/drift"
	"triage/internal/notifications"
	"triage/internal/results"
	"triage/internal/services"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
	calls    int
}

func newCapturingServer(t *testing.T) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		got.calls++
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		got.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, got
}

func configFor(url string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	cfg.Notifications.RequestTimeout = 5
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRunStarted(context.Background(), 2025, "abc"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("nil config should yield noop, got %v", err)
	}
}

func TestRunCompletedListsTierCounts(t *testing.T) {
	server, got := newCapturingServer(t)
	svc := notifications.NewService(configFor(server.URL))

	summary := results.Summary{CycleYear: 2025, Applicants: 1200}
	summary.Tiers.ByTier = [classifier.TierCount]int{700, 200, 200, 100}
	summary.Tiers.LowConfidence = 12
	if err := svc.NotifyRunCompleted(context.Background(), "0123456789abcdef", summary); err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}

	if got.title != "Triage - Results Ready" || got.tags != "triage,run,completed" || got.priority != "" {
		t.Fatalf("unexpected headers %+v", got)
	}
	for _, want := range []string{"Cycle 2025 scored: 1,200 applicants (run 01234567)", "High Priority for Review: 100", "Not for Human Review: 700", "Low confidence: 12"} {
		if !strings.Contains(got.body, want) {
			t.Fatalf("message %q missing %q", got.body, want)
		}
	}
}

func TestRunFailedIsHighPriorityWithRetryHint(t *testing.T) {
	server, got := newCapturingServer(t)
	svc := notifications.NewService(configFor(server.URL))

	failure := services.Failure{Kind: services.FailureExternalBatchAPI, Retryable: true, Stage: "rubric", Message: "Rubric scoring service failed"}
	if err := svc.NotifyRunFailed(context.Background(), 2025, "run-1", failure); err != nil {
		t.Fatalf("NotifyRunFailed: %v", err)
	}
	if got.priority != "high" || got.tags != "triage,error,external_batch_api" {
		t.Fatalf("unexpected headers %+v", got)
	}
	if !strings.Contains(got.body, "triage run retry 2025") {
		t.Fatalf("expected retry hint, got %q", got.body)
	}
}

func TestDriftAdvisoryNamesFeatures(t *testing.T) {
	server, got := newCapturingServer(t)
	svc := notifications.NewService(configFor(server.URL))

	report := drift.Report{
		Tested:          4,
		DriftedCount:    2,
		DriftedFraction: 0.5,
		GlobalDrift:     true,
		Features: []drift.FeatureDrift{
			{Feature: "Age", Drifted: true},
			{Feature: "Exp_Hour_Total"},
			{Feature: "Exp_Hour_Research", Drifted: true},
		},
	}
	if err := svc.NotifyDriftAdvisory(context.Background(), 2026, report); err != nil {
		t.Fatalf("NotifyDriftAdvisory: %v", err)
	}
	want := "Cycle 2026: 2 of 4 features drifted (50%)\nAge, Exp_Hour_Research"
	if got.body != want {
		t.Fatalf("expected %q, got %q", want, got.body)
	}
}

func TestMutedEventsAreNotSent(t *testing.T) {
	server, got := newCapturingServer(t)
	cfg := configFor(server.URL)
	cfg.Notifications.RunStarted = false
	cfg.Notifications.Drift = false
	svc := notifications.NewService(cfg)

	if err := svc.NotifyRunStarted(context.Background(), 2025, "run-1"); err != nil {
		t.Fatalf("NotifyRunStarted: %v", err)
	}
	if err := svc.NotifyDriftAdvisory(context.Background(), 2025, drift.Report{}); err != nil {
		t.Fatalf("NotifyDriftAdvisory: %v", err)
	}
	if got.calls != 0 {
		t.Fatalf("expected muted events to be dropped, got %d calls", got.calls)
	}
}

func TestServerErrorIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic reserved", http.StatusForbidden)
	}))
	defer server.Close()

	err := notifications.NewService(configFor(server.URL)).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
