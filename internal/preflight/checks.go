package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"triage/internal/archive"
	"triage/internal/classifier"
	"triage/internal/config"
	"triage/internal/runstore"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckArtifact verifies the model artifact is readable and loads cleanly.
func CheckArtifact(path string) Result {
	const name = "Model artifact"
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "artifact_path not configured"}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	artifact, err := classifier.LoadArtifact(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (version %s)", path, artifact.Version)}
}

// CheckStore opens the run database and verifies its schema.
func CheckStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Run database"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := runstore.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("open failed (%v)", err)}
	}
	defer store.Close()

	health, err := store.CheckHealth(checkCtx)
	if err != nil {
		detail := health.Error
		if detail == "" {
			detail = err.Error()
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s %s (%s)", health.Driver, health.Location, detail)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s %s (schema v%d)", health.Driver, health.Location, health.SchemaVersion)}
}

// CheckRubric verifies the rubric scorer source for the configured mode.
func CheckRubric(ctx context.Context, cfg config.Rubric) Result {
	const name = "Rubric scorer"

	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "disabled":
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	case "file":
		if err := unix.Access(cfg.ScoresPath, unix.R_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", cfg.ScoresPath, err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", cfg.ScoresPath)}
	case "http":
		return CheckRubricEndpoint(ctx, cfg.BaseURL, cfg.APIKey)
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unknown mode %q", cfg.Mode)}
	}
}

// CheckRubricEndpoint verifies the batch scorer is reachable and accepts the key.
func CheckRubricEndpoint(ctx context.Context, baseURL, apiKey string) Result {
	const name = "Rubric scorer"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base_url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/batches", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api key)"}
	case resp.StatusCode >= 500:
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	default:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
}

// CheckArchive verifies the remote snapshot archive when enabled.
func CheckArchive(ctx context.Context, cfg config.Archive) Result {
	const name = "Result archive"
	if !cfg.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if err := archive.ValidateConfig(cfg); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := archive.NewMinio(checkCtx, cfg); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s/%s (bucket ready)", cfg.Endpoint, cfg.Bucket)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (service unreachable)"
	}
	return err.Error()
}
