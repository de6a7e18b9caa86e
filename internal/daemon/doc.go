// Package daemon coordinates the long-running rivalcastd process.
//
// It wires configuration, the task store, the stage registry, the
// dispatcher, the recording capture supervisor, the optional Redis wake
// relay and the HTTP API into a single lifecycle. An exclusive flock on the
// data directory prevents two daemons on one host from sharing a store by
// accident; multiple hosts may still share a store because claims are atomic.
//
// Keep orchestration logic here: stage behavior lives in internal/stages and
// scheduling in internal/workflow.
package daemon
