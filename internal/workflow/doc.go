// Package workflow drives processing tasks through the registered stage
// handlers.
//
// The Dispatcher runs one claim loop per process. Each pass promotes due
// retries, claims pending tasks up to the concurrency ceiling and starts one
// goroutine per claimed task. The loop sleeps until a wake signal arrives, an
// executor frees a slot, the next retry becomes due or the poll interval
// elapses. Heartbeat and reconcile tickers keep long-running tasks alive and
// reclaim the ones whose executor vanished.
//
// A successful execution commits its fan-out (the next stage's tasks and the
// entity status updates) in the same transaction that completes the task, so a
// later stage never exists before the earlier one is durably complete. Results
// of tasks that were cancelled or reclaimed while executing are discarded.
package workflow
