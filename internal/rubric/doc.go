// Package rubric talks to the external batch rubric scorer.
//
// Scoring is a submit/poll exchange that can take a day to complete. Client
// implements the HTTP batch API with per-request retries and Retry-After
// handling; FileScorer and Disabled cover offline and rubric-free runs. Poller
// drives the poll-until-ready loop with a growing interval and refreshes the
// run heartbeat between polls.
package rubric
