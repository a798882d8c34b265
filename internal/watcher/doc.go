// Package watcher starts runs from approval markers. An upload tool copies a
// cycle's CSV exports into <data_dir>/<year>/ and then touches the marker file
// (APPROVED by default); the watcher debounces the event, admits a run for
// that cycle and renames the marker to <marker>.consumed.
package watcher
