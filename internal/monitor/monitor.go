package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"triage/internal/logging"
	"triage/internal/notifications"
	"triage/internal/runstore"
	"triage/internal/services"
)

// ParseSchedule parses a five-field cron expression or an @every/@hourly
// style descriptor.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(expr)
}

// Monitor fails running runs whose heartbeat went stale. It is the only
// recovery path for a crashed or partitioned worker.
type Monitor struct {
	store    *runstore.Store
	notifier notifications.Service
	logger   *slog.Logger
	timeout  time.Duration
	schedule cron.Schedule
	now      func() time.Time
}

// Options configures a Monitor.
type Options struct {
	Store    *runstore.Store
	Notifier notifications.Service
	Logger   *slog.Logger
	// Timeout is the staleness window; a run is lost once its heartbeat is older.
	Timeout time.Duration
	// Schedule is a cron expression; it is only needed by Run.
	Schedule string
	Now      func() time.Time
}

// New builds a monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Store == nil {
		return nil, errors.New("monitor requires a run store")
	}
	if opts.Timeout <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "monitor", "init", "heartbeat timeout must be positive", nil)
	}
	m := &Monitor{
		store:    opts.Store,
		notifier: opts.Notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "monitor"),
		timeout:  opts.Timeout,
		now:      opts.Now,
	}
	if m.notifier == nil {
		m.notifier = notifications.NewService(nil)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if opts.Schedule != "" {
		schedule, err := ParseSchedule(opts.Schedule)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "monitor", "init", "invalid sweep schedule "+opts.Schedule, err)
		}
		m.schedule = schedule
	}
	return m, nil
}

// Sweep fails every running run whose last heartbeat is older than the
// timeout at now. A run already failed by an earlier or concurrent sweep is
// never returned again.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) ([]*runstore.Run, error) {
	cutoff := now.Add(-m.timeout)
	failure := services.Classify(services.ErrWorkerLost, "")
	failure.Detail = fmt.Sprintf("no heartbeat for more than %s", m.timeout)

	lost, err := m.store.FailStale(ctx, cutoff, failure, now)
	for _, run := range lost {
		lastSeen := time.Time{}
		if run.HeartbeatAt != nil {
			lastSeen = *run.HeartbeatAt
		}
		logging.ErrorWithContext(m.logger, "run presumed lost", "worker_lost",
			logging.RunID(run.ID),
			logging.Cycle(run.CycleYear),
			logging.Stage(run.Stage),
			logging.String("worker_id", run.WorkerID),
			logging.Duration("heartbeat_age", now.Sub(lastSeen)),
			logging.Hint(fmt.Sprintf("check the worker host, then run: triage run retry %d", run.CycleYear)))
		stored := failure
		if run.Failure != nil {
			stored = *run.Failure
		}
		if nerr := m.notifier.NotifyRunFailed(ctx, run.CycleYear, run.ID, stored); nerr != nil {
			m.logger.Warn("lost run notification failed", logging.Error(nerr))
		}
	}
	if err != nil {
		return lost, err
	}
	if len(lost) > 0 {
		m.logger.Info("sweep failed stale runs", logging.Int("count", len(lost)))
	} else {
		m.logger.Debug("sweep found no stale runs")
	}
	return lost, nil
}

// NextSweep returns the next scheduled sweep after t.
func (m *Monitor) NextSweep(t time.Time) time.Time {
	if m.schedule == nil {
		return time.Time{}
	}
	return m.schedule.Next(t)
}

// Run sweeps on the configured schedule until ctx is cancelled. One sweep
// runs immediately so a restarted coordinator resumes recovery at once.
func (m *Monitor) Run(ctx context.Context) error {
	if m.schedule == nil {
		return services.Wrap(services.ErrConfiguration, "monitor", "run", "no sweep schedule configured", nil)
	}
	m.sweepLogged(ctx)
	for {
		next := m.schedule.Next(m.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			m.sweepLogged(ctx)
		}
	}
}

func (m *Monitor) sweepLogged(ctx context.Context) {
	if _, err := m.Sweep(ctx, m.now()); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(m.logger, "heartbeat sweep failed", "sweep_failed",
			logging.Error(err),
			logging.Hint("check run database access"),
			logging.Impact("stuck runs stay running until the next successful sweep"))
	}
}
