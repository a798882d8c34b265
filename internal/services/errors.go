package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConcurrentRun rejects a start or retry while the cycle already has an active run.
	ErrConcurrentRun = errors.New("concurrent run")
	// ErrExternalBatchAPI marks rubric scorer failures. Runs failed with it are retryable.
	ErrExternalBatchAPI = errors.New("external batch api error")
	// ErrSchemaMismatch marks feature vectors that do not match the model artifact.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrWorkerLost marks runs failed by the heartbeat monitor.
	ErrWorkerLost = errors.New("worker lost")
	// ErrRunInactive reports a callback for a run that has already left running.
	ErrRunInactive = errors.New("run no longer running")

	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// ErrModelInference is the classifier-facing name for schema mismatches.
var ErrModelInference = ErrSchemaMismatch

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
