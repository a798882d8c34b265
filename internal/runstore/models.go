package runstore

import (
	"encoding/json"
	"time"

	"triage/internal/services"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusRunning, StatusComplete, StatusFailed}

// IsActive reports whether the status counts against the one-active-run-per-cycle rule.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// IsTerminal reports whether the run can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Run is one execution attempt of the scoring pipeline for a cycle.
type Run struct {
	ID          string     `json:"id"`
	CycleYear   int        `json:"cycle_year"`
	Status      Status     `json:"status"`
	Stage       string     `json:"stage,omitempty"`
	ProgressPct float64    `json:"progress_pct"`
	RetryOf     string     `json:"retry_of,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Failure *services.Failure `json:"failure,omitempty"`
	// Summary is the JSON result summary written on completion.
	Summary json.RawMessage `json:"summary,omitempty"`
}

// HeartbeatAge returns how long ago the run last reported liveness.
func (r *Run) HeartbeatAge(now time.Time) time.Duration {
	if r == nil {
		return 0
	}
	ref := r.HeartbeatAt
	if ref == nil {
		ref = r.StartedAt
	}
	if ref == nil {
		return now.Sub(r.CreatedAt)
	}
	return now.Sub(*ref)
}

// HealthSummary counts runs by lifecycle bucket.
type HealthSummary struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Running  int `json:"running"`
	Complete int `json:"complete"`
	Failed   int `json:"failed"`
}

// DatabaseHealth describes the run database for diagnostics.
type DatabaseHealth struct {
	Driver        string `json:"driver"`
	Location      string `json:"location"`
	SchemaVersion int    `json:"schema_version"`
	Reachable     bool   `json:"reachable"`
	TableExists   bool   `json:"table_exists"`
	Error         string `json:"error,omitempty"`
}
