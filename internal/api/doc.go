// Package api serves runs and live result sets over HTTP and defines the
// wire types shared with the CLI client.
//
// # Routes
//
//	POST /api/cycles/{year}/runs    admit a run (201, 409 while one is active)
//	POST /api/cycles/{year}/retry   retry the latest failed run
//	GET  /api/cycles/{year}/runs    list runs for a cycle
//	GET  /api/runs                  list runs across cycles
//	GET  /api/runs/{id}             run status
//	GET  /api/results/current       live result (?cycle=, ?tier=, ?assignments=0)
//	GET  /api/results/events        server-sent result_published events
//	GET  /api/results/ws            the same events over a websocket
//	GET  /api/health                worker, database and subscriber health
//
// Every route except health requires the configured bearer token when one is
// set. EventSource and websocket clients may pass it as ?access_token=.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Run
// statuses are lowercase strings and timestamps use RFC3339 with
// milliseconds. Run summaries pass through as json.RawMessage.
//
// Error replies carry {"error": ..., "kind": ...}. The client maps status
// codes back to the service error markers so errors.Is works across the wire.
package api
