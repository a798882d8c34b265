package main

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"triage/internal/api"
	"triage/internal/results"
	"triage/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "config.toml")
	socket := filepath.Join(dir, "triage.sock")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, socket, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, socket, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestConfigValidateAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	out, _, err = runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[workflow]")
	requireContains(t, out, env.cfg.Paths.StateDir)
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "No runs recorded")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status struct {
		Running     bool   `json:"running"`
		StoreDriver string `json:"store_driver"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if !status.Running || status.StoreDriver != "sqlite" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunLifecycleCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.runAPI(t, "run", "start", "2025", "--wait", "--json")
	if err != nil {
		t.Fatalf("run start: %v\n%s", err, out)
	}
	var run api.Run
	if err := json.Unmarshal([]byte(out), &run); err != nil {
		t.Fatalf("decode run: %v\n%s", err, out)
	}
	if run.Status != "complete" {
		t.Fatalf("expected complete run, got %+v", run)
	}

	out, err = env.runAPI(t, "run", "status", run.ID)
	if err != nil {
		t.Fatalf("run status: %v", err)
	}
	requireContains(t, out, "complete")
	requireContains(t, out, "Cycle:     2025")

	out, err = env.runAPI(t, "run", "list", "--cycle", "2025")
	if err != nil {
		t.Fatalf("run list: %v", err)
	}
	requireContains(t, out, run.ID)

	out, err = env.runAPI(t, "results", "show", "--cycle", "2025")
	if err != nil {
		t.Fatalf("results show: %v", err)
	}
	requireContains(t, out, "High Priority for Review")
	requireContains(t, out, run.ID)

	out, err = env.runAPI(t, "results", "show", "--cycle", "2025", "--csv")
	if err != nil {
		t.Fatalf("results show --csv: %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != env.applicants+1 || records[0][0] != "applicant_id" {
		t.Fatalf("expected header plus %d rows, got %d", env.applicants, len(records))
	}

	dst := filepath.Join(t.TempDir(), "export.json")
	out, err = env.runAPI(t, "results", "export", run.ID, dst)
	if err != nil {
		t.Fatalf("results export: %v", err)
	}
	requireContains(t, out, "Exported")
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var snap results.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if snap.RunID != run.ID {
		t.Fatalf("exported snapshot for %s, want %s", snap.RunID, run.ID)
	}

	if _, err := env.runAPI(t, "run", "retry", "2025"); err == nil {
		t.Fatal("expected retry of a complete run to be rejected")
	}
	if _, err := env.runAPI(t, "run", "start", "19"); err == nil {
		t.Fatal("expected invalid cycle to be rejected")
	}
	if _, err := env.runAPI(t, "run", "status", "missing-run"); err == nil {
		t.Fatal("expected unknown run to fail")
	}
}

func TestResultsShowBeforePublish(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.runAPI(t, "results", "show", "--cycle", "2030")
	if err == nil || !strings.Contains(err.Error(), "no published result for cycle 2030") {
		t.Fatalf("expected missing result error, got %v", err)
	}
}

func TestMaintenanceCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"sweep"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	requireContains(t, out, "No stale runs")

	out, _, err = runCLI(t, []string{"sweep", "--offline"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sweep --offline: %v", err)
	}
	requireContains(t, out, "No stale runs")

	out, _, err = runCLI(t, []string{"notify", "test"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("notify test: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")

	out, _, err = runCLI(t, []string{"preflight"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("preflight: %v\n%s", err, out)
	}
	requireContains(t, out, "Model artifact")
	requireContains(t, out, "synthetic-1")
}

func TestAPIBaseURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:7487": "http://127.0.0.1:7487",
		"0.0.0.0:8080":   "http://127.0.0.1:8080",
		":9000":          "http://127.0.0.1:9000",
	}
	for bind, want := range cases {
		got, err := apiBaseURL(bind)
		if err != nil || got != want {
			t.Fatalf("apiBaseURL(%q) = %q, %v; want %q", bind, got, err, want)
		}
	}
	if _, err := apiBaseURL(""); err == nil {
		t.Fatal("expected an error for a disabled API")
	}
}

func TestLogsCommand(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.RunLogs = true
	configPath := filepath.Join(testsupport.BaseDir(cfg), "triage.toml")
	writeTestConfig(t, configPath, cfg)
	socket := filepath.Join(t.TempDir(), "triage.sock")

	runDir := filepath.Join(cfg.Paths.LogDir, "runs")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	record := `{"time":"2025-03-01T12:00:00Z","level":"INFO","msg":"stage complete","run_id":"r1","stage":"features"}`
	if err := os.WriteFile(filepath.Join(runDir, "r1.log"), []byte(record+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	daemonLog := filepath.Join(cfg.Paths.LogDir, "triage-test.log")
	other := `{"time":"2025-03-01T12:00:01Z","level":"INFO","msg":"other run","run_id":"r2"}`
	if err := os.WriteFile(daemonLog, []byte(record+"\n"+other+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(daemonLog, filepath.Join(cfg.Paths.LogDir, "triage.log")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "r1"}, socket, configPath)
	if err != nil {
		t.Fatalf("logs r1: %v", err)
	}
	requireContains(t, out, "stage complete")
	requireContains(t, out, "stage=features")

	out, _, err = runCLI(t, []string{"logs", "r1", "--daemon-log"}, socket, configPath)
	if err != nil {
		t.Fatalf("logs --daemon-log: %v", err)
	}
	requireContains(t, out, "stage complete")
	if strings.Contains(out, "other run") {
		t.Fatalf("expected other runs to be filtered out:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"logs", "--raw", "-n", "1"}, socket, configPath)
	if err != nil {
		t.Fatalf("logs --raw: %v", err)
	}
	requireContains(t, out, `"msg":"other run"`)
}
