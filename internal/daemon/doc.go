// Package daemon coordinates the long-running triage coordinator process.
//
// It supervises the orchestrator worker pool, the heartbeat monitor, the
// approval watcher, the cross-process result bus follower and the HTTP API as
// a single errgroup, with flock-based locking to prevent two coordinators
// sharing one state directory. The daemon also exposes the maintenance hooks
// the IPC control socket serves: an immediate heartbeat sweep, database
// health and a test notification.
//
// Keep orchestration logic here: pipeline stages live in their own packages
// while the daemon focuses on startup, shutdown and high level coordination.
package daemon
