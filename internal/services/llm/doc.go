// Package llm provides an OpenAI-compatible chat completion client used by the
// analysis and report stages.
//
// Both stages treat the model as a black box: they send a system prompt plus a
// JSON document and persist whatever JSON comes back. The client only cares
// about transport concerns.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff (base 1s, max 10s, up to 3 attempts by default), honours
// Retry-After, and paces requests with a token bucket when requests_per_minute
// is configured. Context cancellation aborts retries immediately.
//
// Errors carry services markers so the dispatcher can tell a rate limit
// (retry the task later) from a rejected request (fail the task).
package llm
