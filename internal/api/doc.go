// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs and /api/runs/{run_id} for run history via the
//     store.RunRepository interface.
//   - POST /api/runs to launch a character build in the background.
package api
