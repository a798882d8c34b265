package logging

import (
	"context"
	"log/slog"
	"math"
	"time"

	"triage/internal/services"
)

// Attr is the attribute type accepted by every helper in this package.
type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// Strings records a list such as drifted feature names or degradation codes.
func Strings(key string, values []string) Attr { return slog.Any(key, values) }

// Error records err under "error". A nil error is logged as "<nil>".
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// RunID tags a record with the run it belongs to.
func RunID(id string) Attr { return slog.String(FieldRunID, id) }

// Cycle tags a record with an admissions cycle year.
func Cycle(year int) Attr { return slog.Int(FieldCycleYear, year) }

// Stage tags a record with a pipeline stage name.
func Stage(name string) Attr { return slog.String(FieldStage, name) }

// EventType classifies a record for log queries.
func EventType(name string) Attr { return slog.String(FieldEventType, name) }

// Hint tells the operator what to do next.
func Hint(text string) Attr { return slog.String(FieldErrorHint, text) }

// Impact states what a warning means for runs or published results.
func Impact(text string) Attr { return slog.String(FieldImpact, text) }

// Progress records a run's cumulative progress rounded to one decimal.
func Progress(pct float64) Attr {
	return slog.Float64("progress_pct", math.Round(pct*10)/10)
}

// Failure records a classified run failure as a "failure" group.
func Failure(f services.Failure) Attr {
	attrs := []any{
		slog.String("kind", string(f.Kind)),
		slog.Bool("retryable", f.Retryable),
		slog.String("message", f.Message),
	}
	if f.Stage != "" {
		attrs = append(attrs, slog.String("stage", f.Stage))
	}
	return slog.Group("failure", attrs...)
}

// Args converts attrs for the variadic slog.Logger methods.
func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(nopHandler{})
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact. Missing fields get defaults; the default hint points at the
// run log when the record names a run.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs, eventType)
	if !hasKey(attrs, FieldImpact) {
		attrs = append(attrs, Impact("processing continues"))
	}
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Error(msg, Args(withDefaults(attrs, eventType)...)...)
}

func withDefaults(attrs []Attr, eventType string) []Attr {
	if !hasKey(attrs, FieldEventType) {
		attrs = append(attrs, EventType(eventType))
	}
	if !hasKey(attrs, FieldErrorHint) {
		hint := "check the daemon log with: triage logs"
		for _, a := range attrs {
			if a.Key == FieldRunID && a.Value.String() != "" {
				hint = "check the run log with: triage logs " + a.Value.String()
				break
			}
		}
		attrs = append(attrs, Hint(hint))
	}
	return attrs
}

func hasKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (nopHandler) Handle(context.Context, slog.Record) error { return nil }

func (nopHandler) WithAttrs([]slog.Attr) slog.Handler { return nopHandler{} }

func (nopHandler) WithGroup(string) slog.Handler { return nopHandler{} }
