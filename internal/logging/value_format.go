package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// headerValue renders the run, cycle and stage values lifted into the
// console header; they are never quoted.
func headerValue(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return plainValue(v)
}

// formatValue renders a field value for the indented console body.
func formatValue(v slog.Value) string {
	return quote(plainValue(v.Resolve()))
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return formatFloat(v.Float64())
	case slog.KindDuration:
		return roundDuration(v.Duration()).String()
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindAny:
		switch value := v.Any().(type) {
		case error:
			return value.Error()
		case []string:
			// Feature lists from drift reports and degradation codes.
			return "[" + strings.Join(value, ",") + "]"
		case []float64:
			parts := make([]string, len(value))
			for i, f := range value {
				parts[i] = formatFloat(f)
			}
			return "[" + strings.Join(parts, ",") + "]"
		default:
			return fmt.Sprint(value)
		}
	default:
		return v.String()
	}
}

// formatFloat keeps scores and probabilities readable: at most four decimals,
// trailing zeros dropped.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 4, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second)
	case d >= time.Second:
		return d.Round(10 * time.Millisecond)
	default:
		return d.Round(time.Microsecond)
	}
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return strconv.Quote(s)
		}
	}
	return s
}
