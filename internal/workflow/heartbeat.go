package workflow

import (
	"context"
	"errors"
	"time"

	"rivalcast/internal/logging"
	"rivalcast/internal/metrics"
	"rivalcast/internal/queue"
)

// heartbeatLoop refreshes heartbeat_at of every task this process executes.
func (d *Dispatcher) heartbeatLoop(ctx context.Context) {
	defer d.loops.Done()
	if d.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			claims := d.inflightClaims()
			if len(claims) == 0 {
				continue
			}
			if err := d.store.TouchHeartbeat(ctx, claims...); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				d.logger.Warn("heartbeat update failed",
					logging.Error(err),
					logging.Int("tasks", len(claims)),
					logging.String(logging.FieldEventType, "heartbeat_failed"),
					logging.String(logging.FieldImpact, "tasks may be reclaimed as stale"),
				)
				continue
			}
			d.cancelDetached(ctx, claims)
		}
	}
}

// cancelDetached cancels local executions whose claim no longer holds a
// processing task, such as after an operator stop issued from the CLI.
func (d *Dispatcher) cancelDetached(ctx context.Context, claims []string) {
	processing, err := d.store.TasksByStatus(ctx, queue.StatusProcessing)
	if err != nil {
		return
	}
	live := make(map[string]bool, len(processing))
	for _, task := range processing {
		live[task.ClaimID] = true
	}
	for _, claim := range claims {
		if live[claim] {
			continue
		}
		task, ok := d.cancelClaim(claim)
		if !ok {
			continue
		}
		d.logger.Info("task left processing elsewhere; cancelling executor",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldEventType, "task_detached"),
		)
	}
}

// reconcileLoop periodically reclaims processing tasks whose heartbeat is
// older than the timeout.
func (d *Dispatcher) reconcileLoop(ctx context.Context) {
	defer d.loops.Done()
	if d.reconcileInterval <= 0 || d.heartbeatTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(d.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Warn("reconcile sweep failed; stuck tasks may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "reconcile_failed"),
					logging.String(logging.FieldErrorHint, "check task database access"),
				)
			}
		}
	}
}

// Reconcile runs one stale-task sweep and returns the reclaimed tasks. Local
// executions of reclaimed tasks are cancelled; their results would be
// discarded anyway.
func (d *Dispatcher) Reconcile(ctx context.Context) ([]*queue.Task, error) {
	reclaimed, err := Reclaim(ctx, d.store, d.heartbeatTimeout)
	if err != nil {
		return nil, err
	}
	if len(reclaimed) == 0 {
		return nil, nil
	}
	metrics.TasksReclaimed.Add(float64(len(reclaimed)))
	for _, task := range reclaimed {
		d.cancelClaim(task.ClaimID)
		logger := logging.WithContext(withTaskContext(ctx, task, ""), d.logger)
		logging.WarnWithContext(logger, "reclaimed stale task", "task_reclaimed",
			logging.String("resolved_status", string(task.Status)),
			logging.String("error_message", task.ErrorMessage),
			logging.String(logging.FieldErrorHint, "executor stopped heartbeating"),
		)
		if task.Status == queue.StatusFailed && task.Type == queue.TaskReport {
			d.onOrderFailed(ctx, logger, task.OrderID, task.ErrorMessage)
		}
	}
	d.waker.Notify(ctx)
	return reclaimed, nil
}

// Reclaim fails every processing task without a heartbeat within timeout.
// It is shared by the dispatcher ticker and the operator reconcile command.
func Reclaim(ctx context.Context, store *queue.Store, timeout time.Duration) ([]*queue.Task, error) {
	if timeout <= 0 {
		return nil, nil
	}
	return store.ReclaimStale(ctx, time.Now().Add(-timeout))
}
