// Command triage hosts the admissions triage coordinator and the operator CLI.
//
// "triage daemon" runs the coordinator in the foreground; start, stop and
// status manage it over the control socket. The run and results commands talk
// to the daemon's HTTP API, while sweep, preflight and config work directly
// against local configuration and the run database.
package main
