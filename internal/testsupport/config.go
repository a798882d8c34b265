package testsupport

import (
	"path/filepath"
	"testing"

	"triage/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The rubric scorer is disabled and timings are shortened; options adjust the rest.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "uploads")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ArtifactPath = filepath.Join(base, "model.yaml")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Store.Driver = "sqlite"
	cfgVal.Workflow.Workers = 1
	cfgVal.Workflow.RunPollInterval = 1
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Rubric.Mode = "disabled"
	cfgVal.Rubric.InitialPollSeconds = 1
	cfgVal.Rubric.MaxPollSeconds = 1
	cfgVal.Logging.Format = "json"
	cfgVal.Logging.RunLogs = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRubricFile serves rubric scores from a precomputed JSON file.
func WithRubricFile(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Rubric.Mode = "file"
		b.cfg.Rubric.ScoresPath = path
	}
}

// WithRubricHTTP points the rubric scorer at a test server.
func WithRubricHTTP(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Rubric.Mode = "http"
		b.cfg.Rubric.BaseURL = baseURL
		b.cfg.Rubric.RetryAttempts = 1
	}
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = n
	}
}

// WithAPIToken requires bearer auth on the test API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
