package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"triage/internal/archive"
	"triage/internal/config"
	"triage/internal/logging"
	"triage/internal/notifications"
	"triage/internal/pipeline"
	"triage/internal/results"
	"triage/internal/runstore"
	"triage/internal/services"
)

const (
	minCycleYear = 1900
	maxCycleYear = 9999
)

// Options wires an Orchestrator. Config, Store, Results and Engine are required.
type Options struct {
	Config   *config.Config
	Store    *runstore.Store
	Results  *results.Store
	Engine   *pipeline.Engine
	Archive  archive.Archive
	Bus      results.Bus
	Notifier notifications.Service
	Logger   *slog.Logger
	// WorkerID prefixes the ids workers claim runs under; defaults to a uuid.
	WorkerID string
	Now      func() time.Time
}

// Orchestrator owns the run state machine: it admits runs, hands pending runs
// to its worker pool and records the outcome. It is the single writer of the
// shared result store in this process.
type Orchestrator struct {
	cfg      *config.Config
	store    *runstore.Store
	results  *results.Store
	engine   *pipeline.Engine
	archive  archive.Archive
	bus      results.Bus
	notifier notifications.Service
	logger   *slog.Logger
	workerID string
	now      func() time.Time

	wake chan struct{}

	mu      sync.RWMutex
	running bool
	lastErr error
	lastRun *runstore.Run
}

// New validates options and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil || opts.Store == nil || opts.Results == nil || opts.Engine == nil {
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "init", "config, store, results and engine are required", nil)
	}
	if opts.Bus == nil {
		opts.Bus = results.LocalBus{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewService(nil)
	}
	if opts.WorkerID == "" {
		opts.WorkerID = uuid.NewString()[:8]
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	workers := opts.Config.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Orchestrator{
		cfg:      opts.Config,
		store:    opts.Store,
		results:  opts.Results,
		engine:   opts.Engine,
		archive:  opts.Archive,
		bus:      opts.Bus,
		notifier: opts.Notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "orchestrator"),
		workerID: opts.WorkerID,
		now:      opts.Now,
		wake:     make(chan struct{}, workers),
	}, nil
}

// StartRun admits a new pending run for cycle. A second start while a run for
// the cycle is pending or running fails with services.ErrConcurrentRun; the
// store's unique index makes the check and the insert one step.
func (o *Orchestrator) StartRun(ctx context.Context, cycle int) (*runstore.Run, error) {
	return o.admit(ctx, cycle, "")
}

// Retry starts a fresh run for a cycle whose latest run failed. The failed run
// is kept untouched as the audit record of that attempt.
func (o *Orchestrator) Retry(ctx context.Context, cycle int) (*runstore.Run, error) {
	if err := validateCycle(cycle); err != nil {
		return nil, err
	}
	latest, err := o.store.LatestRun(ctx, cycle)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "retry", fmt.Sprintf("cycle %d has no runs to retry", cycle), nil)
	}
	switch latest.Status {
	case runstore.StatusPending, runstore.StatusRunning:
		return nil, services.Wrap(services.ErrConcurrentRun, "orchestrator", "retry",
			fmt.Sprintf("cycle %d run %s is still %s", cycle, latest.ID, latest.Status), nil)
	case runstore.StatusComplete:
		return nil, services.Wrap(services.ErrValidation, "orchestrator", "retry",
			fmt.Sprintf("cycle %d latest run %s completed; start a new run instead", cycle, latest.ID), nil)
	}
	return o.admit(ctx, cycle, latest.ID)
}

func (o *Orchestrator) admit(ctx context.Context, cycle int, retryOf string) (*runstore.Run, error) {
	if err := validateCycle(cycle); err != nil {
		return nil, err
	}
	run, err := o.store.CreateRun(ctx, cycle, retryOf, o.now())
	if err != nil {
		if errors.Is(err, services.ErrConcurrentRun) {
			o.logger.Info("run rejected; cycle already active",
				logging.Cycle(cycle),
				logging.EventType("run_rejected"))
		}
		return nil, err
	}
	attrs := []logging.Attr{
		logging.RunID(run.ID),
		logging.Cycle(cycle),
		logging.EventType("run_created"),
	}
	if retryOf != "" {
		attrs = append(attrs, logging.String("retry_of", retryOf))
	}
	o.logger.Info("run created", logging.Args(attrs...)...)
	o.signal()
	return run, nil
}

// GetStatus returns the stored run record. It never recomputes anything.
func (o *Orchestrator) GetStatus(ctx context.Context, runID string) (*runstore.Run, error) {
	return o.store.GetRun(ctx, runID)
}

// ListRuns returns the newest runs for cycle, or for every cycle when cycle is 0.
func (o *Orchestrator) ListRuns(ctx context.Context, cycle, limit int) ([]*runstore.Run, error) {
	return o.store.ListRuns(ctx, cycle, limit)
}

// ReportProgress records stage progress. Calls for runs that already left
// running are dropped.
func (o *Orchestrator) ReportProgress(ctx context.Context, runID, stage string, pct float64) error {
	ok, err := o.store.UpdateProgress(ctx, runID, stage, pct, o.now())
	if err != nil {
		return err
	}
	if !ok {
		o.logger.Debug("progress ignored for inactive run",
			logging.RunID(runID),
			logging.Stage(stage))
	}
	return nil
}

// Heartbeat refreshes liveness for a running run. It returns ErrRunInactive
// once the run has been failed or completed elsewhere.
func (o *Orchestrator) Heartbeat(ctx context.Context, runID string) error {
	ok, err := o.store.Heartbeat(ctx, runID, o.now())
	if err != nil {
		return services.Wrap(services.ErrTransient, "orchestrator", "heartbeat", runID, err)
	}
	if !ok {
		return services.Wrap(services.ErrRunInactive, "orchestrator", "heartbeat", runID, nil)
	}
	return nil
}

// MarkFailed records failure on a pending or running run. Repeated calls, or
// calls after the run finished, change nothing.
func (o *Orchestrator) MarkFailed(ctx context.Context, runID string, failure services.Failure) error {
	ok, err := o.store.Fail(ctx, runID, failure, o.now())
	if err != nil {
		return err
	}
	if !ok {
		o.logger.Debug("failure ignored for finished run", logging.RunID(runID))
		return nil
	}
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	o.setLast(run, failure)
	logging.ErrorWithContext(o.logger, "run failed", "run_failed",
		logging.RunID(runID),
		logging.Cycle(run.CycleYear),
		logging.Failure(failure))
	if err := o.notifier.NotifyRunFailed(ctx, run.CycleYear, runID, failure); err != nil {
		o.logger.Warn("run failure notification failed", logging.Error(err))
	}
	return nil
}

// MarkComplete moves a running run to complete and publishes its snapshot.
// It reports false, publishing nothing, when the run was not running.
func (o *Orchestrator) MarkComplete(ctx context.Context, runID string, snap *results.Snapshot) (bool, error) {
	if snap == nil || snap.RunID != runID {
		return false, services.Wrap(services.ErrValidation, "orchestrator", "complete", "snapshot does not belong to run "+runID, nil)
	}
	summary, err := json.Marshal(snap.Summary)
	if err != nil {
		return false, fmt.Errorf("encode summary: %w", err)
	}
	completedAt := snap.CompletedAt
	if completedAt.IsZero() {
		completedAt = o.now()
	}
	ok, err := o.store.Complete(ctx, runID, summary, completedAt)
	if err != nil {
		return false, err
	}
	if !ok {
		o.logger.Debug("completion ignored for inactive run", logging.RunID(runID))
		return false, nil
	}

	published := o.results.Publish(snap)
	o.setLast(&runstore.Run{ID: runID, CycleYear: snap.CycleYear, Status: runstore.StatusComplete}, nil)
	o.logger.Info("run complete",
		logging.RunID(runID),
		logging.Cycle(snap.CycleYear),
		logging.EventType("run_complete"),
		logging.Int("applicants", snap.Summary.Applicants),
		logging.Bool("published", published),
		logging.Bool("drift_advisory", snap.Summary.DriftAdvisory))

	if published {
		ev := results.Event{
			Type:        results.EventResultPublished,
			RunID:       runID,
			CycleYear:   snap.CycleYear,
			PublishedAt: o.now().UTC(),
		}
		if err := o.bus.Notify(ctx, ev); err != nil {
			logging.WarnWithContext(o.logger, "result broadcast failed", "result_broadcast_failed",
				logging.RunID(runID),
				logging.Error(err),
				logging.Impact("other processes keep serving the previous result until they restart"))
		}
	}
	if err := o.notifier.NotifyRunCompleted(ctx, runID, snap.Summary); err != nil {
		o.logger.Warn("run completion notification failed", logging.Error(err))
	}
	if snap.Summary.DriftAdvisory {
		if err := o.notifier.NotifyDriftAdvisory(ctx, snap.CycleYear, snap.Summary.Drift); err != nil {
			o.logger.Warn("drift notification failed", logging.Error(err))
		}
	}
	return true, nil
}

// FetchSnapshot loads an archived result set; it backs cross-process refresh.
func (o *Orchestrator) FetchSnapshot(ctx context.Context, runID string) (*results.Snapshot, error) {
	if o.archive == nil {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "fetch", "no archive configured", nil)
	}
	return o.archive.Load(ctx, runID)
}

// Restore republishes the latest complete run of every cycle from the archive
// so a restarted process serves results immediately. Missing archives are
// logged and skipped.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	if o.archive == nil {
		return 0, nil
	}
	runs, err := o.store.LatestComplete(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, run := range runs {
		snap, err := o.archive.Load(ctx, run.ID)
		if err != nil {
			logging.WarnWithContext(o.logger, "archived result unavailable", "result_restore_failed",
				logging.RunID(run.ID),
				logging.Cycle(run.CycleYear),
				logging.Error(err),
				logging.Impact("cycle has no live result until its next run completes"))
			continue
		}
		if o.results.Publish(snap) {
			restored++
		}
	}
	if restored > 0 {
		o.logger.Info("restored published results", logging.Int("cycles", restored))
	}
	return restored, nil
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) setLast(run *runstore.Run, err error) {
	o.mu.Lock()
	o.lastRun = run
	o.lastErr = err
	o.mu.Unlock()
}

func validateCycle(cycle int) error {
	if cycle < minCycleYear || cycle > maxCycleYear {
		return services.Wrap(services.ErrValidation, "orchestrator", "validate", fmt.Sprintf("invalid cycle year %d", cycle), nil)
	}
	return nil
}
