package workflow

import (
	"context"
	"fmt"

	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/stage"
)

// applyFanout records a stage result and enqueues the follow-up tasks. It
// runs inside the transaction that completes task.
func applyFanout(ctx context.Context, tx *queue.Tx, task *queue.Task, result stage.Result) error {
	next := func(tt queue.TaskType, targetID int64) error {
		_, err := tx.Enqueue(ctx, queue.NewTask{
			OrderID:  task.OrderID,
			TargetID: targetID,
			Type:     tt,
			Priority: task.Priority,
		})
		return err
	}

	switch task.Type {
	case queue.TaskDownload:
		if err := tx.SetVideoFilePaths(ctx, task.TargetID, result.LocalPath, ""); err != nil {
			return err
		}
		if result.ByteSize > 0 {
			if err := tx.SetVideoFileSize(ctx, task.TargetID, result.ByteSize); err != nil {
				return err
			}
		}
		if err := tx.SetVideoFileProcessing(ctx, task.TargetID, queue.FileDownloaded); err != nil {
			return err
		}
		return next(queue.TaskTranscode, task.TargetID)

	case queue.TaskTranscode:
		if err := tx.SetVideoFilePaths(ctx, task.TargetID, "", result.TranscodedPath); err != nil {
			return err
		}
		if err := tx.SetVideoFileProcessing(ctx, task.TargetID, queue.FileTranscoded); err != nil {
			return err
		}
		return next(queue.TaskSegment, task.TargetID)

	case queue.TaskSegment:
		if len(result.Segments) == 0 {
			return services.Wrap(services.ErrValidation, string(task.Type), "fan out", "no segments produced", nil)
		}
		ids, err := tx.InsertSegments(ctx, task.OrderID, task.TargetID, result.Segments)
		if err != nil {
			return err
		}
		if err := tx.SetVideoFileProcessing(ctx, task.TargetID, queue.FileSegmented); err != nil {
			return err
		}
		for _, id := range ids {
			if err := next(queue.TaskASR, id); err != nil {
				return err
			}
		}
		return nil

	case queue.TaskASR:
		if err := tx.SetSegmentTranscript(ctx, task.TargetID, result.Transcript); err != nil {
			return err
		}
		return next(queue.TaskAnalysis, task.TargetID)

	case queue.TaskAnalysis:
		if err := tx.SetSegmentAnalysis(ctx, task.TargetID, result.Analysis); err != nil {
			return err
		}
		segment, err := tx.Segment(ctx, task.TargetID)
		if err != nil {
			return err
		}
		if _, err := tx.CompleteFileIfAnalyzed(ctx, segment.VideoFileID); err != nil {
			return err
		}
		_, err = tx.ReportReady(ctx, task.OrderID, task.Priority)
		return err

	case queue.TaskReport:
		return tx.CompleteOrder(ctx, task.OrderID, result.ReportPath, result.ReportURI)

	default:
		return fmt.Errorf("%w: no fan-out for task type %q", queue.ErrInvalidTask, task.Type)
	}
}
