package api

import (
	"encoding/json"

	"triage/internal/classifier"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes a pipeline run in a transport-friendly format. It is the
// status contract polled by review UIs.
type Run struct {
	ID          string          `json:"id"`
	CycleYear   int             `json:"cycleYear"`
	Status      string          `json:"status"`
	Stage       string          `json:"stage,omitempty"`
	ProgressPct float64         `json:"progressPct"`
	RetryOf     string          `json:"retryOf,omitempty"`
	WorkerID    string          `json:"workerId,omitempty"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	StartedAt   string          `json:"startedAt,omitempty"`
	HeartbeatAt string          `json:"heartbeatAt,omitempty"`
	CompletedAt string          `json:"completedAt,omitempty"`
	Error       *RunError       `json:"error,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
}

// RunError is the classified failure shown for a failed run.
type RunError struct {
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
}

// RunResponse wraps a single run.
type RunResponse struct {
	Run Run `json:"run"`
}

// RunListResponse wraps a collection of runs, newest first.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// TierCount is one row of a tier distribution.
type TierCount struct {
	Tier  int    `json:"tier"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Result is a live result set as served to review queues and dashboards.
type Result struct {
	RunID           string                  `json:"runId"`
	CycleYear       int                     `json:"cycleYear"`
	CompletedAt     string                  `json:"completedAt"`
	ModelVersion    string                  `json:"modelVersion"`
	Applicants      int                     `json:"applicants"`
	Tiers           []TierCount             `json:"tiers"`
	HighConfidence  int                     `json:"highConfidence"`
	LowConfidence   int                     `json:"lowConfidence"`
	DriftAdvisory   bool                    `json:"driftAdvisory"`
	DriftedFeatures []string                `json:"driftedFeatures,omitempty"`
	Output          string                  `json:"output,omitempty"`
	Assignments     []classifier.Assignment `json:"assignments,omitempty"`
}

// ResultResponse wraps the live result for a cycle.
type ResultResponse struct {
	Result Result `json:"result"`
	Cycles []int  `json:"cycles"`
}

// WorkerStatus summarizes the orchestrator worker pool.
type WorkerStatus struct {
	Running      bool           `json:"running"`
	WorkerID     string         `json:"workerId"`
	Workers      int            `json:"workers"`
	ModelVersion string         `json:"modelVersion"`
	RunStats     map[string]int `json:"runStats"`
	LastError    string         `json:"lastError,omitempty"`
	LastRun      *Run           `json:"lastRun,omitempty"`
	LiveCycles   []int          `json:"liveCycles"`
}

// DatabaseStatus reports run store reachability.
type DatabaseStatus struct {
	Driver        string `json:"driver"`
	Reachable     bool   `json:"reachable"`
	SchemaVersion int    `json:"schemaVersion"`
	Error         string `json:"error,omitempty"`
}

// HealthResponse is served by GET /api/health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Workers     WorkerStatus   `json:"workers"`
	Database    DatabaseStatus `json:"database"`
	Subscribers int            `json:"subscribers"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ResultEvent is pushed to SSE and websocket subscribers when a result set
// goes live.
type ResultEvent struct {
	Type        string `json:"type"`
	RunID       string `json:"runId"`
	CycleYear   int    `json:"cycleYear"`
	PublishedAt string `json:"publishedAt"`
}
