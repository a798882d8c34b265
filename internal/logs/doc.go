// Package logs reads the coordinator's log files for the CLI.
//
// Tail returns the last N lines of a file or everything after a byte offset,
// and in follow mode blocks on fsnotify until new lines are appended. Paths
// resolves the daemon's current log pointer and per-run log files, and Render
// turns JSON log records into single readable lines.
package logs
