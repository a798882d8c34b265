// Package results serves the live tier assignments for each admissions cycle.
//
// A Store holds immutable snapshots behind an atomic pointer so readers never
// observe a half-published result set. A Hub fans publish events out to
// in-process subscribers (SSE and websocket clients), and a Bus carries the
// same events between processes that share a PostgreSQL run store.
package results
