package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"triage/internal/classifier"
	"triage/internal/config"
	"triage/internal/drift"
	"triage/internal/results"
	"triage/internal/services"
)

const userAgent = "Triage-Go/0.1.0"

// Service defines the notification surface exposed to the run orchestrator.
type Service interface {
	NotifyRunStarted(ctx context.Context, cycle int, runID string) error
	NotifyRunCompleted(ctx context.Context, runID string, summary results.Summary) error
	NotifyRunFailed(ctx context.Context, cycle int, runID string, failure services.Failure) error
	NotifyDriftAdvisory(ctx context.Context, cycle int, report drift.Report) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		events:   cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	events   config.Notifications
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, cycle int, runID string) error {
	if !n.events.RunStarted {
		return nil
	}
	return n.send(ctx, payload{
		title:    "Triage - Run Started",
		message:  fmt.Sprintf("Scoring cycle %d (run %s)", cycle, shortID(runID)),
		tags:     []string{"triage", "run", "started"},
		priority: "low",
	})
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, runID string, summary results.Summary) error {
	if !n.events.RunCompleted {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %d scored: %s applicants (run %s)\n", summary.CycleYear, humanize.Comma(int64(summary.Applicants)), shortID(runID))
	for tier := classifier.TierCount - 1; tier >= 0; tier-- {
		fmt.Fprintf(&b, "%s: %s\n", classifier.TierLabel(tier), humanize.Comma(int64(summary.Tiers.ByTier[tier])))
	}
	if summary.Tiers.LowConfidence > 0 {
		fmt.Fprintf(&b, "Low confidence: %s", humanize.Comma(int64(summary.Tiers.LowConfidence)))
	}
	return n.send(ctx, payload{
		title:   "Triage - Results Ready",
		message: strings.TrimSpace(b.String()),
		tags:    []string{"triage", "run", "completed"},
	})
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, cycle int, runID string, failure services.Failure) error {
	if !n.events.RunFailed {
		return nil
	}
	message := fmt.Sprintf("Cycle %d run %s failed: %s", cycle, shortID(runID), failure.Message)
	if failure.Retryable {
		message += "\nRetry with: triage run retry " + fmt.Sprint(cycle)
	}
	return n.send(ctx, payload{
		title:    "Triage - Run Failed",
		message:  message,
		tags:     []string{"triage", "error", string(failure.Kind)},
		priority: "high",
	})
}

func (n *ntfyService) NotifyDriftAdvisory(ctx context.Context, cycle int, report drift.Report) error {
	if !n.events.Drift {
		return nil
	}
	drifted := report.DriftedFeatures()
	message := fmt.Sprintf("Cycle %d: %d of %d features drifted (%.0f%%)", cycle, report.DriftedCount, report.Tested, report.DriftedFraction*100)
	if len(drifted) > 0 {
		message += "\n" + strings.Join(drifted, ", ")
	}
	return n.send(ctx, payload{
		title:   "Triage - Drift Advisory",
		message: message,
		tags:    []string{"triage", "drift", "review"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Triage - Test",
		message:  "Notification system test",
		tags:     []string{"triage", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, int, string) error                  { return nil }
func (noopService) NotifyRunCompleted(context.Context, string, results.Summary) error    { return nil }
func (noopService) NotifyRunFailed(context.Context, int, string, services.Failure) error { return nil }
func (noopService) NotifyDriftAdvisory(context.Context, int, drift.Report) error         { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
