package stage

import (
	"context"

	"rivalcast/internal/queue"
)

// Handler describes the contract the dispatcher needs from each stage.
//
// Execute must be idempotent: a task may run again after a crash or a
// reclaimed heartbeat, so outputs are written to temporary names and renamed
// into place. Errors should carry a services marker; unmarked errors are
// treated as transient.
type Handler interface {
	Prepare(context.Context, *queue.Task) error
	Execute(context.Context, *queue.Task) (Result, error)
	HealthCheck(context.Context) Health
}

// Result is the success payload of a stage execution. Only the fields
// relevant to the stage are set.
type Result struct {
	LocalPath      string
	TranscodedPath string
	ByteSize       int64
	Segments       []queue.SegmentSpec
	Transcript     string
	Analysis       string
	ReportPath     string
	ReportURI      string
}
