package orchestrator

import (
	"context"

	"triage/internal/logging"
	"triage/internal/runstore"
)

// StatusSummary is lightweight orchestrator diagnostics for the health API.
type StatusSummary struct {
	Running      bool                    `json:"running"`
	WorkerID     string                  `json:"worker_id"`
	Workers      int                     `json:"workers"`
	ModelVersion string                  `json:"model_version"`
	LastError    string                  `json:"last_error,omitempty"`
	LastRun      *runstore.Run           `json:"last_run,omitempty"`
	RunStats     map[runstore.Status]int `json:"run_stats"`
	LiveCycles   []int                   `json:"live_cycles"`
}

// Status returns the latest orchestrator information.
func (o *Orchestrator) Status(ctx context.Context) StatusSummary {
	o.mu.RLock()
	running := o.running
	lastErr := o.lastErr
	lastRun := o.lastRun
	o.mu.RUnlock()

	stats, err := o.store.Stats(ctx)
	if err != nil {
		o.logger.Warn("failed to read run stats", logging.Error(err))
	}

	summary := StatusSummary{
		Running:      running,
		WorkerID:     o.workerID,
		Workers:      cap(o.wake),
		ModelVersion: o.engine.ModelVersion(),
		RunStats:     stats,
		LiveCycles:   o.results.Cycles(),
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastRun != nil {
		copy := *lastRun
		summary.LastRun = &copy
	}
	return summary
}
