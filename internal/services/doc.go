// Package services defines shared utilities consumed by the pipeline stages,
// the orchestrator and the external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, cycle years, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so stage failures keep
//     their classification as they bubble up.
//   - Classify, which turns any stage error into the Failure persisted on a
//     run: a kind, a retryable flag, a short user-facing message and the raw
//     detail for operators.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
