package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"triage/internal/logging"
	"triage/internal/pipeline"
	"triage/internal/runstore"
	"triage/internal/services"
)

const errorRetryInterval = 5 * time.Second

// Run starts the worker pool and blocks until ctx is cancelled. Each worker
// claims pending runs from the store and executes them to completion.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	workers := cap(o.wake)
	o.logger.Info("worker pool started",
		logging.Int("workers", workers),
		logging.Duration("poll_interval", o.pollInterval()))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		workerID := fmt.Sprintf("%s-%d", o.workerID, i)
		g.Go(func() error {
			o.workerLoop(gctx, workerID)
			return nil
		})
	}
	// Pick up anything left pending by a previous process.
	o.signal()
	return g.Wait()
}

// Running reports whether the worker pool is active.
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerID string) {
	logger := o.logger.With(logging.String("worker_id", workerID))
	for {
		if ctx.Err() != nil {
			return
		}
		run, err := o.store.ClaimPending(ctx, workerID, o.now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.setLast(nil, err)
			logger.Error("failed to claim pending run",
				logging.Error(err),
				logging.EventType("run_claim_failed"),
				logging.Hint("check run database access"))
			o.sleep(ctx, errorRetryInterval)
			continue
		}
		if run == nil {
			o.waitForRun(ctx)
			continue
		}
		o.execute(ctx, logger, run)
	}
}

func (o *Orchestrator) waitForRun(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-o.wake:
	case <-time.After(o.pollInterval()):
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (o *Orchestrator) pollInterval() time.Duration {
	if d := o.cfg.RunPollInterval(); d > 0 {
		return d
	}
	return 5 * time.Second
}

// execute drives one claimed run through the pipeline. The heartbeat loop
// runs alongside the engine so a long but healthy stage is never swept.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, run *runstore.Run) {
	runCtx, cancelRun := context.WithCancel(services.WithCycle(services.WithRunID(ctx, run.ID), run.CycleYear))
	defer cancelRun()
	logger = logging.WithContext(runCtx, logger)
	logger.Info("run claimed",
		logging.EventType("run_claimed"),
		logging.String("retry_of", run.RetryOf))
	if err := o.notifier.NotifyRunStarted(runCtx, run.CycleYear, run.ID); err != nil {
		logger.Warn("run start notification failed", logging.Error(err))
	}

	var runLogger *slog.Logger
	if o.cfg.Logging.RunLogs {
		runLog, err := logging.OpenRunLog(logger, filepath.Join(o.cfg.Paths.LogDir, "runs"), run.ID)
		if err != nil {
			logging.WarnWithContext(logger, "run log unavailable", "run_log_failed",
				logging.Error(err),
				logging.Impact("run details only appear in the daemon log"))
		} else {
			defer runLog.Close()
			runLogger = runLog.Logger
			logger.Info("run log opened", logging.String("path", runLog.Path))
		}
	}

	hbCtx, stopHeartbeat := context.WithCancel(runCtx)
	var wg sync.WaitGroup
	wg.Add(1)
	go o.heartbeatLoop(hbCtx, &wg, logger, run.ID, cancelRun)

	snap, err := o.engine.Run(runCtx, pipeline.Job{
		RunID:     run.ID,
		CycleYear: run.CycleYear,
		DataDir:   o.cfg.CycleDataDir(run.CycleYear),
		Logger:    runLogger,
	}, o)

	stopHeartbeat()
	wg.Wait()

	if err != nil {
		// The engine already recorded the failure through MarkFailed.
		return
	}
	doneCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), 30*time.Second)
	defer cancel()
	if _, err := o.MarkComplete(doneCtx, run.ID, snap); err != nil {
		logging.ErrorWithContext(logger, "failed to record run completion", "run_complete_persist_failed",
			logging.Error(err),
			logging.Hint("the monitor will fail the run once its heartbeat goes stale; retry the cycle"))
	}
}

// heartbeatLoop refreshes the run heartbeat until ctx ends. When the run has
// been failed elsewhere it cancels the pipeline through cancelRun.
func (o *Orchestrator) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, runID string, cancelRun context.CancelFunc) {
	defer wg.Done()
	interval := o.cfg.HeartbeatInterval()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Heartbeat(ctx, runID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if errors.Is(err, services.ErrRunInactive) {
					logger.Warn("run left running while executing; stopping pipeline",
						logging.EventType("run_inactive"))
					cancelRun()
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
