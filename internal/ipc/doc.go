// Package ipc exposes daemon control over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// The socket carries process control only: start, stop, status, an immediate
// heartbeat sweep, database health and a test notification. Runs and results
// travel over the HTTP API in package api.
package ipc
