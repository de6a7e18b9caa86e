// Package api serves the rivalcast HTTP surface: order intake, manual task
// enqueue, analysis and recording commands, the side-effect free progress
// polling endpoints, health and Prometheus metrics.
//
// Routes are mounted on a chi router. Every request gets a correlation ID
// (X-Request-ID, generated when absent) and an optional operator identity
// (X-Operator) carried in the request context. When an API token is
// configured every /api route except health requires "Authorization: Bearer
// <token>". Polling endpoints are rate limited per client IP.
//
// Payloads use snake_case JSON. Store and tracker errors map to status codes
// in writeError: unknown rows are 404, malformed requests 400 and state
// conflicts 409.
package api
