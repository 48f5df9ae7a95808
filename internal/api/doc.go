// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/connections and /v1/connections/{account_id} for live status.
//   - POST /v1/connections/{account_id}/connect|disconnect to drive the
//     lifecycle of one account.
//   - GET /v1/connections/{account_id}/history for recorded transitions via
//     the store.StatusRepository interface.
package api
