package rubric

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"triage/internal/features"
	"triage/internal/logging"
	"triage/internal/services"
)

// Schedule controls the poll-until-ready loop. Intervals grow by Factor from
// Initial up to Max.
type Schedule struct {
	Initial   time.Duration
	Max       time.Duration
	Factor    float64
	MaxWait   time.Duration
	MaxErrors int
}

// DefaultSchedule starts at 30s and settles on 10 minute polls for up to 36h.
func DefaultSchedule() Schedule {
	return Schedule{
		Initial:   30 * time.Second,
		Max:       10 * time.Minute,
		Factor:    2,
		MaxWait:   36 * time.Hour,
		MaxErrors: 3,
	}
}

// Next returns the interval following current.
func (s Schedule) Next(current time.Duration) time.Duration {
	if current <= 0 {
		return s.Initial
	}
	factor := s.Factor
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(current) * factor)
	if s.Max > 0 && next > s.Max {
		next = s.Max
	}
	return next
}

// HeartbeatFunc refreshes the owning run's liveness timestamp.
type HeartbeatFunc func(ctx context.Context) error

// Poller waits for a submitted batch, refreshing the run heartbeat after every
// poll so the monitor does not mistake a slow batch for a lost worker.
type Poller struct {
	scorer   Scorer
	schedule Schedule
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
}

// PollerOption customizes a poller.
type PollerOption func(*Poller)

// WithPollSleep replaces the wait between polls (tests).
func WithPollSleep(sleep func(context.Context, time.Duration) error) PollerOption {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithClock replaces the time source used for the MaxWait budget.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPoller builds a poller over scorer.
func NewPoller(scorer Scorer, schedule Schedule, logger *slog.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = logging.NewNop()
	}
	if schedule.MaxErrors <= 0 {
		schedule.MaxErrors = DefaultSchedule().MaxErrors
	}
	p := &Poller{scorer: scorer, schedule: schedule, logger: logger, sleep: sleepContext, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Await polls until the batch completes. It fails with ErrExternalBatchAPI when
// MaxErrors consecutive polls error, the batch ends without results, results
// are malformed, or MaxWait elapses. Context cancellation stops it immediately.
func (p *Poller) Await(ctx context.Context, batchID string, heartbeat HeartbeatFunc) (map[string]features.RubricScores, error) {
	start := p.now()
	interval := time.Duration(0)
	consecutive := 0
	for attempt := 1; ; attempt++ {
		result, err := p.scorer.Poll(ctx, batchID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			consecutive++
			p.logger.Warn("rubric poll failed",
				logging.String("batch_id", batchID),
				logging.Int("attempt", attempt),
				logging.Int("consecutive_errors", consecutive),
				logging.Error(err))
			if consecutive >= p.schedule.MaxErrors {
				return nil, services.Wrap(services.ErrExternalBatchAPI, "rubric", "poll",
					fmt.Sprintf("batch %s: %d consecutive poll failures", batchID, consecutive), err)
			}
		} else {
			consecutive = 0
			if result.Terminal() {
				detail := result.Detail
				if detail == "" {
					detail = "no detail"
				}
				return nil, services.Wrap(services.ErrExternalBatchAPI, "rubric", "poll",
					fmt.Sprintf("batch %s ended %s: %s", batchID, result.Status, detail), nil)
			}
			if result.Ready {
				if err := ValidateScores(result.Results); err != nil {
					return nil, err
				}
				p.logger.Info("rubric batch ready",
					logging.String("batch_id", batchID),
					logging.Int("attempts", attempt),
					logging.Int("scored", len(result.Results)),
					logging.Duration("waited", p.now().Sub(start)))
				return result.Results, nil
			}
			p.logger.Debug("rubric batch pending",
				logging.String("batch_id", batchID),
				logging.String("status", result.Status),
				logging.Int("attempt", attempt))
		}

		if heartbeat != nil {
			if err := heartbeat(ctx); err != nil {
				return nil, err
			}
		}
		if p.schedule.MaxWait > 0 && p.now().Sub(start) >= p.schedule.MaxWait {
			return nil, services.Wrap(services.ErrExternalBatchAPI, "rubric", "poll",
				fmt.Sprintf("batch %s not ready after %s", batchID, p.schedule.MaxWait), nil)
		}
		interval = p.schedule.Next(interval)
		if err := p.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
