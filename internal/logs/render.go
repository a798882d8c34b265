package logs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

var reservedKeys = map[string]bool{"ts": true, "time": true, "level": true, "msg": true, "component": true, "source": true}

// Render formats one JSON log record as "15:04:05 LEVEL [component] msg k=v".
// Lines that are not JSON objects are returned unchanged.
func Render(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return line
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return line
	}

	var b strings.Builder
	ts, ok := record["ts"].(string)
	if !ok {
		ts, ok = record["time"].(string)
	}
	if ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ts = parsed.Local().Format("15:04:05")
		}
		b.WriteString(ts)
		b.WriteByte(' ')
	}
	if level, ok := record["level"].(string); ok {
		fmt.Fprintf(&b, "%-5s ", strings.ToUpper(level))
	}
	if component, ok := record["component"].(string); ok && component != "" {
		fmt.Fprintf(&b, "[%s] ", component)
	}
	if msg, ok := record["msg"].(string); ok {
		b.WriteString(msg)
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		if !reservedKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, formatValue(record[k]))
	}
	return b.String()
}

// MatchesRun reports whether a JSON record carries run_id == runID.
func MatchesRun(line, runID string) bool {
	if runID == "" {
		return true
	}
	var record struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &record); err != nil {
		return false
	}
	return record.RunID == runID
}

func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		if strings.ContainsAny(value, " \t") {
			return fmt.Sprintf("%q", value)
		}
		return value
	case float64:
		return fmt.Sprintf("%g", value)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	}
}
