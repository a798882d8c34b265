// Package daemonctl launches, stops and inspects the triage daemon from the
// CLI side of the control socket.
package daemonctl
