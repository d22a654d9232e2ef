// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/{dataset}/{year} relays the yearly archive with permissive CORS.
//   - POST /v1/reports/{cnpj} runs a lookup; /upload runs it on a posted ZIP.
//   - GET /v1/reports/{cnpj}/{year} and .../export.csv serve saved snapshots.
package api
