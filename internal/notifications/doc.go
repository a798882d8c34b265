// Package notifications pushes run lifecycle events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// the orchestrator can notify unconditionally. Each event kind can be muted
// individually through the [notifications] config table.
package notifications
