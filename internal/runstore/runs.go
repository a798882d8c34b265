package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"triage/internal/services"
)

// CreateRun inserts a pending run. The unique partial index on active runs
// makes this the atomic check-and-create: a second active run for the same
// cycle fails with ErrConcurrentRun.
func (s *Store) CreateRun(ctx context.Context, cycle int, retryOf string, now time.Time) (*Run, error) {
	if cycle <= 0 {
		return nil, services.Wrap(services.ErrValidation, "runstore", "create", fmt.Sprintf("invalid cycle year %d", cycle), nil)
	}
	id := uuid.NewString()
	ts := formatTime(now)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, cycle_year, status, stage, progress_pct, retry_of, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, cycle, string(StatusPending), nil, 0.0, nullableString(retryOf), ts, ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConcurrentRun, "runstore", "create",
				fmt.Sprintf("cycle %d already has an active run", cycle), nil)
		}
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun fetches one run. Unknown ids return ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "runstore", "get", "run "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently created run for the cycle, or nil.
func (s *Store) LatestRun(ctx context.Context, cycle int) (*Run, error) {
	run, err := scanRun(s.queryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE cycle_year = ? ORDER BY created_at DESC, id DESC LIMIT 1`, cycle))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first. cycle 0 lists every cycle; limit <= 0 is unbounded.
func (s *Store) ListRuns(ctx context.Context, cycle, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if cycle > 0 {
		query += ` WHERE cycle_year = ?`
		args = append(args, cycle)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.collect(ctx, query, args...)
}

// ListByStatus returns runs in the given statuses, oldest first.
func (s *Store) ListByStatus(ctx context.Context, statuses ...Status) ([]*Run, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	placeholders := ""
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = string(st)
	}
	return s.collect(ctx, `SELECT `+runColumns+` FROM runs WHERE status IN (`+placeholders+`) ORDER BY created_at, id`, args...)
}

// LatestComplete returns the newest complete run of every cycle.
func (s *Store) LatestComplete(ctx context.Context) ([]*Run, error) {
	runs, err := s.collect(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY cycle_year, completed_at DESC, id DESC`, string(StatusComplete))
	if err != nil {
		return nil, err
	}
	var out []*Run
	seen := make(map[int]bool)
	for _, r := range runs {
		if seen[r.CycleYear] {
			continue
		}
		seen[r.CycleYear] = true
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) collect(ctx context.Context, query string, args ...any) ([]*Run, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ClaimPending moves the oldest pending run to running for workerID. It
// returns nil when nothing is pending or another worker won the claim.
func (s *Store) ClaimPending(ctx context.Context, workerID string, now time.Time) (*Run, error) {
	pending, err := s.ListByStatus(ctx, StatusPending)
	if err != nil {
		return nil, err
	}
	ts := formatTime(now)
	for _, candidate := range pending {
		claimed, err := s.execAffected(ctx,
			`UPDATE runs SET status = ?, worker_id = ?, started_at = ?, heartbeat_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			string(StatusRunning), workerID, ts, ts, ts, candidate.ID, string(StatusPending))
		if err != nil {
			return nil, fmt.Errorf("claim run: %w", err)
		}
		if claimed {
			return s.GetRun(ctx, candidate.ID)
		}
	}
	return nil, nil
}

// UpdateProgress records stage and percentage for a running run. The stored
// percentage never decreases; a regression keeps the previous stage and value.
// It reports false when the run is no longer running.
func (s *Store) UpdateProgress(ctx context.Context, id, stage string, pct float64, now time.Time) (bool, error) {
	if math.IsNaN(pct) {
		pct = 0
	}
	pct = math.Max(0, math.Min(100, pct))
	ts := formatTime(now)
	ok, err := s.execAffected(ctx,
		`UPDATE runs
         SET stage = CASE WHEN progress_pct > ? THEN stage ELSE ? END,
             progress_pct = CASE WHEN progress_pct > ? THEN progress_pct ELSE ? END,
             heartbeat_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		pct, stage, pct, pct, ts, ts, id, string(StatusRunning))
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	return ok, nil
}

// Heartbeat refreshes liveness for a running run. It reports false when the
// run is no longer running.
func (s *Store) Heartbeat(ctx context.Context, id string, now time.Time) (bool, error) {
	ts := formatTime(now)
	ok, err := s.execAffected(ctx,
		`UPDATE runs SET heartbeat_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		ts, ts, id, string(StatusRunning))
	if err != nil {
		return false, fmt.Errorf("update heartbeat: %w", err)
	}
	return ok, nil
}

// Complete moves a running run to complete with its summary. Runs in any other
// state are left untouched and false is returned.
func (s *Store) Complete(ctx context.Context, id string, summary []byte, now time.Time) (bool, error) {
	ts := formatTime(now)
	ok, err := s.execAffected(ctx,
		`UPDATE runs SET status = ?, progress_pct = 100, completed_at = ?, updated_at = ?, summary_json = ?
         WHERE id = ? AND status = ?`,
		string(StatusComplete), ts, ts, nullableString(string(summary)), id, string(StatusRunning))
	if err != nil {
		return false, fmt.Errorf("complete run: %w", err)
	}
	return ok, nil
}

// Fail moves a pending or running run to failed. Terminal runs are left
// untouched and false is returned.
func (s *Store) Fail(ctx context.Context, id string, failure services.Failure, now time.Time) (bool, error) {
	ts := formatTime(now)
	ok, err := s.execAffected(ctx,
		`UPDATE runs
         SET status = ?, completed_at = ?, updated_at = ?,
             failure_kind = ?, failure_retryable = ?, failure_stage = ?, failure_message = ?, failure_detail = ?
         WHERE id = ? AND status IN (?, ?)`,
		string(StatusFailed), ts, ts,
		string(failure.Kind), boolToInt(failure.Retryable), nullableString(failure.Stage),
		failure.Message, nullableString(failure.Detail),
		id, string(StatusPending), string(StatusRunning))
	if err != nil {
		return false, fmt.Errorf("fail run: %w", err)
	}
	return ok, nil
}

// FailStale fails every running run whose heartbeat is older than cutoff.
// Each run is transitioned with its own conditional update, so a run is
// returned by at most one call no matter how many sweepers race.
func (s *Store) FailStale(ctx context.Context, cutoff time.Time, failure services.Failure, now time.Time) ([]*Run, error) {
	candidates, err := s.collect(ctx,
		`SELECT `+runColumns+` FROM runs
         WHERE status = ? AND COALESCE(heartbeat_at, started_at, created_at) < ?
         ORDER BY created_at, id`,
		string(StatusRunning), formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	var failed []*Run
	ts := formatTime(now)
	for _, run := range candidates {
		ok, err := s.execAffected(ctx,
			`UPDATE runs
             SET status = ?, completed_at = ?, updated_at = ?,
                 failure_kind = ?, failure_retryable = ?, failure_stage = ?, failure_message = ?, failure_detail = ?
             WHERE id = ? AND status = ? AND COALESCE(heartbeat_at, started_at, created_at) < ?`,
			string(StatusFailed), ts, ts,
			string(failure.Kind), boolToInt(failure.Retryable), nullableString(run.Stage),
			failure.Message, nullableString(failure.Detail),
			run.ID, string(StatusRunning), formatTime(cutoff))
		if err != nil {
			return failed, fmt.Errorf("fail stale run %s: %w", run.ID, err)
		}
		if !ok {
			continue
		}
		updated, err := s.GetRun(ctx, run.ID)
		if err != nil {
			return failed, err
		}
		failed = append(failed, updated)
	}
	return failed, nil
}
