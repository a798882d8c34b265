package runstore

import (
	"database/sql"
	"errors"
	"time"

	"triage/internal/services"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const runColumns = "id, cycle_year, status, stage, progress_pct, retry_of, worker_id, created_at, updated_at, started_at, heartbeat_at, completed_at, failure_kind, failure_retryable, failure_stage, failure_message, failure_detail, summary_json"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run              Run
		status           string
		stage            sql.NullString
		retryOf          sql.NullString
		workerID         sql.NullString
		createdRaw       string
		updatedRaw       string
		startedRaw       sql.NullString
		heartbeatRaw     sql.NullString
		completedRaw     sql.NullString
		failureKind      sql.NullString
		failureRetryable sql.NullInt64
		failureStage     sql.NullString
		failureMessage   sql.NullString
		failureDetail    sql.NullString
		summary          sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.CycleYear,
		&status,
		&stage,
		&run.ProgressPct,
		&retryOf,
		&workerID,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&heartbeatRaw,
		&completedRaw,
		&failureKind,
		&failureRetryable,
		&failureStage,
		&failureMessage,
		&failureDetail,
		&summary,
	); err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.Stage = stage.String
	run.RetryOf = retryOf.String
	run.WorkerID = workerID.String
	run.CreatedAt, _ = parseTime(createdRaw)
	run.UpdatedAt, _ = parseTime(updatedRaw)
	run.StartedAt = parseNullableTime(startedRaw)
	run.HeartbeatAt = parseNullableTime(heartbeatRaw)
	run.CompletedAt = parseNullableTime(completedRaw)
	if failureKind.Valid && failureKind.String != "" {
		run.Failure = &services.Failure{
			Kind:      services.FailureKind(failureKind.String),
			Retryable: failureRetryable.Int64 != 0,
			Stage:     failureStage.String,
			Message:   failureMessage.String,
			Detail:    failureDetail.String,
		}
	}
	if summary.Valid && summary.String != "" {
		run.Summary = []byte(summary.String)
	}
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
