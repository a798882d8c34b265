// Package logging assembles structured slog loggers and formatting helpers used
// across triage services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with run IDs, cycle years, stages, and correlation IDs. Per-run log
// files are teed off the daemon logger, and old files are pruned on a
// retention window. A no-op logger is provided for tests.
package logging
