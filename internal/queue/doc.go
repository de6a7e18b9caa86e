// Package queue persists orders, video files, segments and processing tasks in
// SQLite and implements the scheduling protocol the dispatcher relies on.
//
// The Store is the single source of truth for task state. Claims are a single
// conditional UPDATE ... RETURNING statement, so exactly one claimant wins a
// task even when several dispatcher processes share the database, and the
// count of processing rows never exceeds the caller's ceiling. Completions and
// the follow-up tasks they fan out to are written in one transaction through
// WithTx; completions only apply to rows that are still processing, which
// discards late results from cancelled executors.
//
// Task rows are never deleted. Schema changes bump schemaVersion in schema.go;
// an older database must be removed to adopt the new layout.
package queue
