package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ErrMissingColumn marks input files that lack a required column.
var ErrMissingColumn = errors.New("missing required column")

// FailureKind is the persisted classification of a failed run.
type FailureKind string

const (
	FailureConcurrentRun    FailureKind = "concurrent_run"
	FailureExternalBatchAPI FailureKind = "external_batch_api"
	FailureSchemaMismatch   FailureKind = "schema_mismatch"
	FailureWorkerLost       FailureKind = "worker_lost"
	FailureMissingColumn    FailureKind = "missing_column"
	FailureMissingFile      FailureKind = "missing_file"
	FailureValidation       FailureKind = "validation"
	FailureConfiguration    FailureKind = "configuration"
	FailureTimeout          FailureKind = "timeout"
	FailureCanceled         FailureKind = "canceled"
	FailureInternal         FailureKind = "internal"
)

const maxDetailRunes = 200

// Failure is the structured failure handed across the run boundary.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Retryable bool        `json:"retryable"`
	Stage     string      `json:"stage,omitempty"`
	Message   string      `json:"message"`
	Detail    string      `json:"detail,omitempty"`
}

func (f Failure) Error() string {
	if f.Stage != "" {
		return fmt.Sprintf("%s (%s during %s)", f.Message, f.Kind, f.Stage)
	}
	return fmt.Sprintf("%s (%s)", f.Message, f.Kind)
}

// Classify maps an error raised inside stage to a Failure. The Message is short and
// user-facing; Detail keeps the raw error text for operators.
func Classify(err error, stage string) Failure {
	if err == nil {
		return Failure{Kind: FailureInternal, Stage: stage, Message: fmt.Sprintf("Pipeline error during %s", stageLabel(stage))}
	}
	var existing Failure
	if errors.As(err, &existing) {
		if existing.Stage == "" {
			existing.Stage = stage
		}
		return existing
	}
	detail := strings.TrimSpace(err.Error())
	failure := Failure{Stage: stage, Detail: detail}

	switch {
	case errors.Is(err, ErrConcurrentRun):
		failure.Kind = FailureConcurrentRun
		failure.Message = "A run for this cycle is already in progress."
	case errors.Is(err, ErrExternalBatchAPI):
		failure.Kind = FailureExternalBatchAPI
		failure.Retryable = true
		failure.Message = "The external rubric scorer failed or returned unusable output. Retry the run once the scorer is available."
	case errors.Is(err, ErrSchemaMismatch):
		failure.Kind = FailureSchemaMismatch
		failure.Message = "Feature vectors do not match the model's expected schema."
	case errors.Is(err, ErrWorkerLost):
		failure.Kind = FailureWorkerLost
		failure.Retryable = true
		failure.Message = "The worker stopped reporting heartbeats and is presumed lost."
	case errors.Is(err, ErrMissingColumn):
		failure.Kind = FailureMissingColumn
		failure.Message = missingColumnMessage(detail)
	case errors.Is(err, fs.ErrNotExist):
		failure.Kind = FailureMissingFile
		failure.Message = "A required data file was not found."
	case errors.Is(err, ErrConfiguration):
		failure.Kind = FailureConfiguration
		failure.Message = fmt.Sprintf("Pipeline configuration error during %s.", stageLabel(stage))
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		failure.Kind = FailureTimeout
		failure.Retryable = true
		failure.Message = fmt.Sprintf("Pipeline timed out during %s.", stageLabel(stage))
	case errors.Is(err, context.Canceled), errors.Is(err, ErrRunInactive):
		failure.Kind = FailureCanceled
		failure.Retryable = true
		failure.Message = fmt.Sprintf("Pipeline was interrupted during %s.", stageLabel(stage))
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		failure.Kind = FailureValidation
		failure.Message = defaultMessage(stage, detail)
	default:
		failure.Kind = FailureInternal
		failure.Message = defaultMessage(stage, detail)
	}
	return failure
}

// Retryable reports whether a failure of this kind may be retried with a new run.
// Every failed run can be retried explicitly; this flags kinds where retrying
// without changing inputs is expected to help.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureExternalBatchAPI, FailureWorkerLost, FailureTimeout, FailureCanceled:
		return true
	default:
		return false
	}
}

// MarkerFor returns the sentinel error for a persisted failure kind.
func MarkerFor(kind FailureKind) error {
	switch kind {
	case FailureConcurrentRun:
		return ErrConcurrentRun
	case FailureExternalBatchAPI:
		return ErrExternalBatchAPI
	case FailureSchemaMismatch:
		return ErrSchemaMismatch
	case FailureWorkerLost:
		return ErrWorkerLost
	case FailureMissingColumn:
		return ErrMissingColumn
	case FailureMissingFile:
		return fs.ErrNotExist
	case FailureConfiguration:
		return ErrConfiguration
	case FailureTimeout:
		return ErrTimeout
	case FailureCanceled:
		return context.Canceled
	case FailureValidation:
		return ErrValidation
	default:
		return ErrTransient
	}
}

// Unwrap lets errors.Is match a Failure against its marker.
func (f Failure) Unwrap() error {
	return MarkerFor(f.Kind)
}

func missingColumnMessage(detail string) string {
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "amcas_id") || strings.Contains(lower, "amcas id") {
		return "The Applicants file is missing the required 'AMCAS ID' column."
	}
	return "An input file is missing a required column."
}

func defaultMessage(stage, detail string) string {
	runes := []rune(detail)
	if len(runes) > maxDetailRunes {
		detail = string(runes[:maxDetailRunes])
	}
	return fmt.Sprintf("Pipeline error during %s: %s", stageLabel(stage), detail)
}

func stageLabel(stage string) string {
	if strings.TrimSpace(stage) == "" {
		return "pipeline"
	}
	return stage
}
