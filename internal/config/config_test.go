package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"triage/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TRIAGE_RUBRIC_API_KEY", "rubric-key")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "triage", "state")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.ArtifactPath != filepath.Join(tempHome, ".config", "triage", "model.yaml") {
		t.Fatalf("unexpected artifact path: %q", cfg.Paths.ArtifactPath)
	}
	if cfg.Rubric.APIKey != "rubric-key" {
		t.Fatalf("expected rubric key from env, got %q", cfg.Rubric.APIKey)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Store.Driver)
	}
	if cfg.HeartbeatTimeout().Minutes() != 10 {
		t.Fatalf("expected 10 minute heartbeat timeout, got %s", cfg.HeartbeatTimeout())
	}
	if cfg.Drift.Alpha != 0.05 || cfg.Drift.Ceiling != 0.20 {
		t.Fatalf("unexpected drift defaults: %+v", cfg.Drift)
	}
	if cfg.Rubric.MaxPollErrors != 3 {
		t.Fatalf("unexpected max poll errors: %d", cfg.Rubric.MaxPollErrors)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.ResultsDir(), cfg.Paths.DataDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist (err=%v)", dir, err)
		}
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := config.Default()
	payload.Paths.DataDir = "~/uploads"
	payload.Paths.StateDir = filepath.Join(t.TempDir(), "state")
	payload.Store.Driver = "PostgreSQL"
	payload.Store.DSN = "postgres://triage@localhost/triage"
	payload.Workflow.Workers = 4
	payload.Classifier.CutPoints = []float64{5, 10, 20}
	payload.Rubric.Mode = "file"
	payload.Rubric.ScoresPath = "~/scores.json"

	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config to be used, got %q (exists=%v)", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "uploads") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Store.Driver != "postgres" {
		t.Fatalf("expected driver alias to normalize, got %q", cfg.Store.Driver)
	}
	if cfg.Workflow.Workers != 4 {
		t.Fatalf("unexpected workers: %d", cfg.Workflow.Workers)
	}
	if cfg.Rubric.ScoresPath != filepath.Join(tempHome, "scores.json") {
		t.Fatalf("unexpected scores path: %q", cfg.Rubric.ScoresPath)
	}
	if got := cfg.CycleDataDir(2025); got != filepath.Join(tempHome, "uploads", "2025") {
		t.Fatalf("unexpected cycle dir: %q", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"postgres without dsn", func(c *config.Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"timeout below interval", func(c *config.Config) { c.Workflow.HeartbeatTimeout = 10; c.Workflow.HeartbeatInterval = 30 }, "heartbeat_timeout"},
		{"bad cron", func(c *config.Config) { c.Workflow.SweepSchedule = "every now and then" }, "sweep_schedule"},
		{"alpha", func(c *config.Config) { c.Drift.Alpha = 0 }, "drift.alpha"},
		{"cut points", func(c *config.Config) { c.Classifier.CutPoints = []float64{1, 1, 2} }, "ascending"},
		{"tie policy", func(c *config.Config) { c.Classifier.TiePolicy = "random" }, "tie_policy"},
		{"archive", func(c *config.Config) { c.Archive.Enabled = true; c.Archive.Endpoint = "" }, "archive.endpoint"},
		{"bus", func(c *config.Config) { c.Bus.Enabled = true }, "bus.enabled"},
		{"rubric file", func(c *config.Config) { c.Rubric.Mode = "file" }, "scores_path"},
		{"poll window", func(c *config.Config) { c.Rubric.MaxPollSeconds = 1 }, "max_poll_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Workflow.SweepSchedule != "*/2 * * * *" {
		t.Fatalf("unexpected sweep schedule %q", cfg.Workflow.SweepSchedule)
	}
}
