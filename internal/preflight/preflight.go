package preflight

import (
	"context"

	"triage/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Paths.DataDir != "" {
		results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	}
	results = append(results,
		CheckArtifact(cfg.Paths.ArtifactPath),
		CheckStore(ctx, cfg),
		CheckRubric(ctx, cfg.Rubric),
		CheckArchive(ctx, cfg.Archive),
	)
	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
