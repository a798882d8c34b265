package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"triage/internal/archive"
	"triage/internal/classifier"
	"triage/internal/config"
	"triage/internal/daemon"
	"triage/internal/ipc"
	"triage/internal/logging"
	"triage/internal/monitor"
	"triage/internal/orchestrator"
	"triage/internal/pipeline"
	"triage/internal/results"
	"triage/internal/rubric"
	"triage/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	apiURL     string
	applicants int
}

func noSleep(context.Context, time.Duration) error { return nil }

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cohort := testsupport.CycleFixture(t, cfg, 2025, 240)

	configPath := filepath.Join(testsupport.BaseDir(cfg), "triage.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	artifact, err := classifier.LoadArtifact(cfg.Paths.ArtifactPath)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	arch, err := archive.FromConfig(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("archive.FromConfig: %v", err)
	}
	engine, err := pipeline.FromConfig(cfg, artifact, arch, logger, rubric.WithPollSleep(noSleep))
	if err != nil {
		t.Fatalf("pipeline.FromConfig: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	hub := results.NewHub()
	live := results.NewStore(hub)
	orch, err := orchestrator.New(orchestrator.Options{
		Config:  cfg,
		Store:   store,
		Results: live,
		Engine:  engine,
		Archive: arch,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	mon, err := monitor.New(monitor.Options{
		Store:    store,
		Logger:   logger,
		Timeout:  cfg.HeartbeatTimeout(),
		Schedule: cfg.Workflow.SweepSchedule,
	})
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	d, err := daemon.New(daemon.Components{
		Config:       cfg,
		Store:        store,
		Orchestrator: orch,
		Results:      live,
		Hub:          hub,
		Monitor:      mon,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.StateDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	if err := d.Start(ctx); err != nil {
		cancel()
		srv.Close()
		t.Fatalf("daemon.Start: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: socketPath,
		configPath: configPath,
		apiURL:     "http://" + d.Status(ctx).APIAddress,
		applicants: len(cohort),
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// runAPI runs a command against the test daemon's HTTP API.
func (e *cliTestEnv) runAPI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLI(t, append([]string{"--api", e.apiURL}, args...), e.socketPath, e.configPath)
	return out, err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
