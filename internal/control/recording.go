package control

import (
	"context"

	"rivalcast/internal/queue"
	"rivalcast/internal/recording"
)

// StartRecording begins tracking a live capture.
func (c *Controller) StartRecording(ctx context.Context, videoFileID int64) error {
	return c.tracker.Start(ctx, videoFileID)
}

// StopRecording ends a live capture on operator request.
func (c *Controller) StopRecording(ctx context.Context, videoFileID int64) (queue.RecordingStatus, error) {
	return c.tracker.Stop(ctx, videoFileID, recording.StopOperator)
}

// ResetRecording returns a stopped or failed capture to pending.
func (c *Controller) ResetRecording(ctx context.Context, videoFileID int64) error {
	return c.tracker.Reset(ctx, videoFileID)
}

// RecordHeartbeat ingests progress from an external capture process.
func (c *Controller) RecordHeartbeat(ctx context.Context, event recording.Event) error {
	return c.tracker.Heartbeat(ctx, event)
}
