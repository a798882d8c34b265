// Package preflight provides readiness checks for the files, databases and
// external services triage depends on.
//
// The CLI "triage preflight" command runs RunAll and renders the results; the
// status command reuses individual checks (CheckStore, CheckRubric) to show
// service health when the daemon is offline.
//
// Each check is gated by its config toggle -- disabled features pass with a
// "Disabled" detail.
package preflight
