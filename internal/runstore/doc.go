// Package runstore persists pipeline runs in SQLite or PostgreSQL.
//
// The runs table carries a unique partial index on cycle_year for pending and
// running rows, so CreateRun is an atomic check-and-create: concurrent starts
// for one cycle yield exactly one row and ErrConcurrentRun for the rest. Every
// transition is a conditional UPDATE on the current status, which makes
// progress, completion, failure and stale sweeps idempotent under duplicate
// delivery.
//
// Placeholders are written as ? and rebound to $n for PostgreSQL. Schema
// changes bump schemaVersion; existing databases with another version are
// rejected rather than migrated.
package runstore
