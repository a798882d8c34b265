package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
	ArtifactPath string `toml:"artifact_path"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// Store selects and tunes the run database.
type Store struct {
	Driver                 string `toml:"driver"`
	DSN                    string `toml:"dsn"`
	MaxOpenConns           int    `toml:"max_open_conns"`
	MaxIdleConns           int    `toml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `toml:"conn_max_lifetime_seconds"`
	PingTimeoutSeconds     int    `toml:"ping_timeout_seconds"`
}

// Workflow contains worker pool sizing and liveness timing.
type Workflow struct {
	Workers           int    `toml:"workers"`
	RunPollInterval   int    `toml:"run_poll_interval"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	HeartbeatTimeout  int    `toml:"heartbeat_timeout"`
	SweepSchedule     string `toml:"sweep_schedule"`
}

// Rubric configures the external batch rubric scorer.
type Rubric struct {
	// Mode is one of "http", "file" or "disabled".
	Mode               string  `toml:"mode"`
	BaseURL            string  `toml:"base_url"`
	APIKey             string  `toml:"api_key"`
	Model              string  `toml:"model"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	RetryAttempts      int     `toml:"retry_attempts"`
	InitialPollSeconds int     `toml:"initial_poll_seconds"`
	MaxPollSeconds     int     `toml:"max_poll_seconds"`
	PollBackoffFactor  float64 `toml:"poll_backoff_factor"`
	MaxWaitHours       int     `toml:"max_wait_hours"`
	MaxPollErrors      int     `toml:"max_poll_errors"`
	// ScoresPath points at precomputed rubric scores when Mode is "file".
	ScoresPath string `toml:"scores_path"`
}

// Drift contains the distribution shift thresholds.
type Drift struct {
	Alpha   float64 `toml:"alpha"`
	Ceiling float64 `toml:"ceiling"`
}

// Classifier overrides tier behaviour frozen in the model artifact.
type Classifier struct {
	TiePolicy string    `toml:"tie_policy"`
	CutPoints []float64 `toml:"cut_points"`
}

// Archive configures S3-compatible storage for published result snapshots.
type Archive struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Bus configures the cross-process result notification channel.
type Bus struct {
	Enabled bool   `toml:"enabled"`
	Channel string `toml:"channel"`
}

// Watcher configures the drop-directory approval watcher.
type Watcher struct {
	Enabled        bool   `toml:"enabled"`
	MarkerFile     string `toml:"marker_file"`
	DebounceMillis int    `toml:"debounce_millis"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunStarted     bool   `toml:"run_started"`
	RunCompleted   bool   `toml:"run_completed"`
	RunFailed      bool   `toml:"run_failed"`
	Drift          bool   `toml:"drift"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	RunLogs       bool   `toml:"run_logs"`
}

// Config encapsulates all configuration values for triage.
//
// Configuration sections by subsystem:
//   - Paths: directories, model artifact and API bind address
//   - Store: run database driver (sqlite or postgres)
//   - Workflow: worker pool, heartbeat and monitor sweep timing
//   - Rubric: external batch scorer connection and poll schedule
//   - Drift: KS significance and global drift ceiling
//   - Classifier: tier tie policy and cut-point overrides
//   - Archive: MinIO/S3 snapshot archive
//   - Bus: postgres LISTEN/NOTIFY result broadcast
//   - Watcher: approval marker watcher on the data directory
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Workflow      Workflow      `toml:"workflow"`
	Rubric        Rubric        `toml:"rubric"`
	Drift         Drift         `toml:"drift"`
	Classifier    Classifier    `toml:"classifier"`
	Archive       Archive       `toml:"archive"`
	Bus           Bus           `toml:"bus"`
	Watcher       Watcher       `toml:"watcher"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/triage/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("triage.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// DataDir is created on a best-effort basis since uploads may live on a
// mount that is not yet available.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.ResultsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.DataDir) != "" {
		_ = os.MkdirAll(c.Paths.DataDir, 0o755)
	}
	return nil
}

// ResultsDir is where completed run result sets are written.
func (c *Config) ResultsDir() string {
	return filepath.Join(c.Paths.StateDir, "results")
}

// CycleDataDir returns the upload directory for one admissions cycle.
func (c *Config) CycleDataDir(cycleYear int) string {
	return filepath.Join(c.Paths.DataDir, fmt.Sprintf("%d", cycleYear))
}

// HeartbeatInterval returns how often a worker refreshes its run heartbeat.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workflow.HeartbeatInterval) * time.Second
}

// HeartbeatTimeout returns the staleness window used by the monitor.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Workflow.HeartbeatTimeout) * time.Second
}

// RunPollInterval returns how often idle workers look for pending runs.
func (c *Config) RunPollInterval() time.Duration {
	return time.Duration(c.Workflow.RunPollInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
