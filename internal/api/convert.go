package api

import (
	"encoding/json"
	"time"

	"triage/internal/classifier"
	"triage/internal/orchestrator"
	"triage/internal/results"
	"triage/internal/runstore"
)

// FromRun converts a run record to its API representation.
func FromRun(run *runstore.Run) Run {
	if run == nil {
		return Run{}
	}
	dto := Run{
		ID:          run.ID,
		CycleYear:   run.CycleYear,
		Status:      string(run.Status),
		Stage:       run.Stage,
		ProgressPct: run.ProgressPct,
		RetryOf:     run.RetryOf,
		WorkerID:    run.WorkerID,
		CreatedAt:   formatTime(run.CreatedAt),
		StartedAt:   formatTimePtr(run.StartedAt),
		HeartbeatAt: formatTimePtr(run.HeartbeatAt),
		CompletedAt: formatTimePtr(run.CompletedAt),
	}
	if run.Failure != nil {
		dto.Error = &RunError{
			Kind:      string(run.Failure.Kind),
			Retryable: run.Failure.Retryable,
			Stage:     run.Failure.Stage,
			Message:   run.Failure.Message,
		}
	}
	if len(run.Summary) > 0 {
		dto.Summary = json.RawMessage(run.Summary)
	}
	return dto
}

// FromRuns converts a slice of run records into API DTOs.
func FromRuns(runs []*runstore.Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, FromRun(run))
	}
	return out
}

// FromSnapshot converts a live result set. tier < 0 includes every
// assignment; withAssignments false omits them entirely.
func FromSnapshot(snap *results.Snapshot, tier int, withAssignments bool) Result {
	if snap == nil {
		return Result{}
	}
	summary := snap.Summary
	dto := Result{
		RunID:           snap.RunID,
		CycleYear:       snap.CycleYear,
		CompletedAt:     formatTime(snap.CompletedAt),
		ModelVersion:    summary.ModelVersion,
		Applicants:      summary.Applicants,
		HighConfidence:  summary.Tiers.HighConfidence,
		LowConfidence:   summary.Tiers.LowConfidence,
		DriftAdvisory:   summary.DriftAdvisory,
		DriftedFeatures: summary.Drift.DriftedFeatures(),
		Output:          summary.Output,
	}
	for t := classifier.TierCount - 1; t >= 0; t-- {
		dto.Tiers = append(dto.Tiers, TierCount{Tier: t, Label: classifier.TierLabel(t), Count: summary.Tiers.ByTier[t]})
	}
	if withAssignments {
		if tier < 0 {
			dto.Assignments = snap.Assignments
		} else {
			dto.Assignments = snap.Tier(tier)
		}
	}
	return dto
}

// FromStatusSummary converts orchestrator diagnostics to API payload.
func FromStatusSummary(summary orchestrator.StatusSummary) WorkerStatus {
	stats := make(map[string]int, len(summary.RunStats))
	for status, count := range summary.RunStats {
		stats[string(status)] = count
	}
	ws := WorkerStatus{
		Running:      summary.Running,
		WorkerID:     summary.WorkerID,
		Workers:      summary.Workers,
		ModelVersion: summary.ModelVersion,
		RunStats:     stats,
		LastError:    summary.LastError,
		LiveCycles:   summary.LiveCycles,
	}
	if summary.LastRun != nil {
		last := FromRun(summary.LastRun)
		ws.LastRun = &last
	}
	return ws
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromEvent converts a hub event to its wire form.
func FromEvent(ev results.Event) ResultEvent {
	return ResultEvent{
		Type:        ev.Type,
		RunID:       ev.RunID,
		CycleYear:   ev.CycleYear,
		PublishedAt: formatTime(ev.PublishedAt),
	}
}
