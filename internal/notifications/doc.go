// Package notifications pushes operator-facing events to ntfy.
//
// The workflow publishes order completion and failure; the recording
// supervisor publishes stalled captures. Each event can be switched off in
// config, and an empty topic turns the whole service into a no-op.
package notifications
