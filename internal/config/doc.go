// Package config loads, normalizes, and validates triage configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TRIAGE_RUBRIC_API_KEY and TRIAGE_DATABASE_URL. The Config type centralizes
// every knob the daemon and CLI need: upload and state directories, the run
// store driver, heartbeat timing, the rubric scorer, drift thresholds and the
// optional archive and broadcast bus.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
