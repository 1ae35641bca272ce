// Package api hosts the optional status server for operator access. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/passes, /v1/passes/latest and /v1/passes/{pass_id} for recent
//     pass summaries.
package api
