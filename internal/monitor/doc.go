// Package monitor recovers runs from lost workers. A sweep fails every
// running run whose heartbeat is older than the configured window, once.
package monitor
