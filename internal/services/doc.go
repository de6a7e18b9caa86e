// Package services defines shared utilities consumed by the stage executors
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp order and task IDs, stage names, operator
//     identity and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the dispatcher
//     decide between retrying a task and failing it outright.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
