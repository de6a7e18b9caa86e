package queue

import "errors"

var (
	// ErrNotFound is returned when a task, video file or segment does not exist.
	ErrNotFound = errors.New("queue: not found")
	// ErrOrderNotFound is returned when an operation references an unknown order.
	ErrOrderNotFound = errors.New("queue: order not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the row's current state.
	ErrInvalidTransition = errors.New("queue: invalid status transition")
	// ErrInvalidTask is returned when an enqueue request is malformed.
	ErrInvalidTask = errors.New("queue: invalid task")
	// ErrNotProcessing is returned when a completion or failure targets a task
	// that has already left the processing state, usually after cancellation.
	ErrNotProcessing = errors.New("queue: task no longer processing")
)
