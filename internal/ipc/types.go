package ipc

// StartRequest triggers daemon service startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon services.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// RunSummary is the short form of a run shown in daemon status.
type RunSummary struct {
	ID          string  `json:"id"`
	CycleYear   int     `json:"cycle_year"`
	Status      string  `json:"status"`
	Stage       string  `json:"stage"`
	ProgressPct float64 `json:"progress_pct"`
	Error       string  `json:"error,omitempty"`
}

// StatusResponse represents combined daemon/orchestrator status information.
type StatusResponse struct {
	Running      bool           `json:"running"`
	WorkersUp    bool           `json:"workers_up"`
	WorkerID     string         `json:"worker_id"`
	Workers      int            `json:"workers"`
	ModelVersion string         `json:"model_version"`
	RunStats     map[string]int `json:"run_stats"`
	LiveCycles   []int          `json:"live_cycles"`
	LastError    string         `json:"last_error"`
	LastRun      *RunSummary    `json:"last_run"`
	StoreDriver  string         `json:"store_driver"`
	LockPath     string         `json:"lock_path"`
	LogPath      string         `json:"log_path"`
	APIAddress   string         `json:"api_address"`
	PID          int            `json:"pid"`
}

// SweepRequest runs one heartbeat sweep now.
type SweepRequest struct{}

// SweepResponse lists the runs the sweep failed.
type SweepResponse struct {
	Lost []string `json:"lost"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse struct {
	Driver        string `json:"driver"`
	Location      string `json:"location"`
	SchemaVersion int    `json:"schema_version"`
	Reachable     bool   `json:"reachable"`
	TableExists   bool   `json:"table_exists"`
	Error         string `json:"error"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
