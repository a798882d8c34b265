// Package orchestrator runs the pending -> running -> complete|failed state
// machine for scoring runs.
//
// StartRun and Retry admit runs; the worker pool started by Run claims them
// from the run store, executes the pipeline engine with the orchestrator as
// its Reporter, and on success swaps the shared result store and broadcasts
// the publish on the results bus. Callbacks for runs that already left
// running are no-ops so duplicate delivery is harmless.
package orchestrator
