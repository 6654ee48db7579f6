// Package api hosts the HTTP server, middleware, and REST handlers for the
// monitoring service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/jobs for job admission and lifecycle control, scoped to the caller
//     named by the X-User-ID header.
//   - GET /v1/queue/stats, /v1/health, and /v1/metrics/me for operators.
package api
