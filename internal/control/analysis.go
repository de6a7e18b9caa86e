package control

import (
	"context"
	"fmt"
	"strings"

	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/workflow"
)

// EnqueueRequest is the manual enqueue contract.
type EnqueueRequest struct {
	OrderID  int64  `json:"order_id"`
	TargetID int64  `json:"target_id"`
	TaskType string `json:"task_type"`
	Priority int    `json:"priority"`
}

// EnqueueTask inserts one pending task.
func (c *Controller) EnqueueTask(ctx context.Context, req EnqueueRequest) (int64, error) {
	taskType, ok := queue.ParseTaskType(req.TaskType)
	if !ok {
		return 0, fmt.Errorf("%w: unknown task type %q", queue.ErrInvalidTask, req.TaskType)
	}
	id, err := c.store.Enqueue(ctx, queue.NewTask{
		OrderID:  req.OrderID,
		TargetID: req.TargetID,
		Type:     taskType,
		Priority: req.Priority,
	})
	if err != nil {
		return 0, err
	}
	ctx = services.WithOrderID(ctx, req.OrderID)
	logging.WithContext(ctx, c.logger).Info("task enqueued",
		logging.Int64(logging.FieldTaskID, id),
		logging.String(logging.FieldTaskType, string(taskType)),
		logging.Int64("target_id", req.TargetID),
		logging.String(logging.FieldEventType, "task_enqueued"),
	)
	c.waker.Notify(ctx)
	return id, nil
}

// StartResult reports what StartAnalysis scheduled.
type StartResult struct {
	OrderID  int64   `json:"order_id"`
	Requeued []int64 `json:"requeued_task_ids"`
	Enqueued []int64 `json:"enqueued_task_ids"`
}

// StartAnalysis resumes an order: failed and cancelled tasks are requeued
// with a fresh retry budget, and every file that is not recording, has media
// to fetch and has no download task yet gets one.
func (c *Controller) StartAnalysis(ctx context.Context, orderID int64) (StartResult, error) {
	result := StartResult{OrderID: orderID}
	err := c.store.WithTx(ctx, func(tx *queue.Tx) error {
		result.Requeued, result.Enqueued = nil, nil
		order, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == queue.OrderCompleted {
			return fmt.Errorf("%w: order %d is already completed", queue.ErrInvalidTransition, orderID)
		}
		requeued, err := tx.RequeueOrder(ctx, orderID)
		if err != nil {
			return err
		}
		result.Requeued = requeued

		files, err := tx.VideoFilesForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, file := range files {
			if !readyForDownload(file) {
				continue
			}
			exists, err := tx.HasTask(ctx, file.ID, queue.TaskDownload)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			id, err := tx.Enqueue(ctx, queue.NewTask{
				OrderID:  orderID,
				TargetID: file.ID,
				Type:     queue.TaskDownload,
				Priority: order.Priority,
			})
			if err != nil {
				return err
			}
			result.Enqueued = append(result.Enqueued, id)
		}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}

	ctx = services.WithOrderID(ctx, orderID)
	logging.WithContext(ctx, c.logger).Info("analysis started",
		logging.Int("requeued", len(result.Requeued)),
		logging.Int("enqueued", len(result.Enqueued)),
		logging.String(logging.FieldEventType, "analysis_started"),
	)
	if len(result.Requeued)+len(result.Enqueued) > 0 {
		c.waker.Notify(ctx)
	}
	return result, nil
}

func readyForDownload(file *queue.VideoFile) bool {
	if file.RecordingStatus == queue.RecordingActive {
		return false
	}
	return strings.TrimSpace(file.CapturePath) != "" || strings.TrimSpace(file.SourceURL) != ""
}

// StopResult reports what StopAnalysis cancelled.
type StopResult struct {
	OrderID     int64   `json:"order_id"`
	Cancelled   []int64 `json:"cancelled_task_ids"`
	Interrupted int     `json:"interrupted"`
}

// StopAnalysis cancels every pending, retry and processing task of the order
// and interrupts executors running in this process.
func (c *Controller) StopAnalysis(ctx context.Context, orderID int64, reason string) (StopResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "analysis stopped by operator"
		if op, ok := services.OperatorFromContext(ctx); ok && op != "" {
			reason = "analysis stopped by " + op
		}
	}
	cancelled, err := c.store.CancelOrder(ctx, orderID, reason)
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{OrderID: orderID, Cancelled: make([]int64, 0, len(cancelled))}
	for _, task := range cancelled {
		result.Cancelled = append(result.Cancelled, task.ID)
	}
	if c.canceller != nil {
		result.Interrupted = c.canceller.CancelOrder(orderID)
	}

	ctx = services.WithOrderID(ctx, orderID)
	logging.WithContext(ctx, c.logger).Info("analysis stopped",
		logging.Int("cancelled", len(result.Cancelled)),
		logging.Int("interrupted", result.Interrupted),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "analysis_stopped"),
	)
	return result, nil
}

// Reconcile reclaims processing tasks whose heartbeat is older than the
// configured timeout.
func (c *Controller) Reconcile(ctx context.Context) ([]*queue.Task, error) {
	reclaimed, err := workflow.Reclaim(ctx, c.store, c.cfg.HeartbeatTimeout())
	if err != nil {
		return nil, err
	}
	if len(reclaimed) > 0 {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "reclaimed stale tasks", "task_reclaimed",
			logging.Int("count", len(reclaimed)),
			logging.String(logging.FieldErrorHint, "executors stopped heartbeating; check the daemon"),
		)
		c.waker.Notify(ctx)
	}
	return reclaimed, nil
}
