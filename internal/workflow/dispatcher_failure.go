package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"rivalcast/internal/logging"
	"rivalcast/internal/metrics"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
)

const (
	persistTimeout  = 10 * time.Second
	maxErrorMessage = 1024
)

func (d *Dispatcher) handleFailure(ctx context.Context, logger *slog.Logger, task *queue.Task, stageErr error, elapsed time.Duration) {
	outcome, hint := services.Details(stageErr)
	message := failureMessage(task, stageErr)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	status, err := d.store.FailTask(persistCtx, task, message, outcome == services.OutcomeTransient)
	if errors.Is(err, queue.ErrNotProcessing) {
		logger.Info("stage failure discarded; task left processing while executing",
			logging.String("error_message", message),
			logging.String(logging.FieldEventType, "stage_result_discarded"),
		)
		metrics.ObserveTask(string(task.Type), metrics.OutcomeDiscarded, elapsed)
		return
	}
	if err != nil {
		d.setLastError(err)
		logger.Error("failed to persist stage failure",
			logging.Error(err),
			logging.String("error_message", message),
			logging.String(logging.FieldEventType, "stage_failure_persist_failed"),
			logging.String(logging.FieldErrorHint, "task stays processing until reconcile reclaims it"),
		)
		return
	}
	d.setLastError(stageErr)

	attrs := []logging.Attr{
		logging.Error(stageErr),
		logging.String("outcome", outcome.String()),
		logging.String("resolved_status", string(status)),
		logging.Int("retry_count", task.RetryCount),
		logging.Int("max_retries", task.MaxRetries),
		logging.Duration("stage_duration", elapsed),
		logging.String(logging.FieldErrorHint, hint),
	}
	if status == queue.StatusRetry {
		logging.WarnWithContext(logger, "stage failed; will retry", "stage_retry", attrs...)
		metrics.ObserveTask(string(task.Type), metrics.OutcomeRetry, elapsed)
		d.waker.Notify(persistCtx)
		return
	}
	attrs = append(attrs, logging.String(logging.FieldImpact, "order needs attention"))
	logging.ErrorWithContext(logger, "stage failed", "stage_failure", attrs...)
	metrics.ObserveTask(string(task.Type), metrics.OutcomeFailed, elapsed)
	if task.Type == queue.TaskReport {
		d.onOrderFailed(persistCtx, logger, task.OrderID, message)
	}
}

// handleShutdown hands an execution interrupted by daemon shutdown back to
// the queue as a transient failure so the next start picks it up.
func (d *Dispatcher) handleShutdown(logger *slog.Logger, task *queue.Task, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	status, err := d.store.FailTask(ctx, task, "interrupted by shutdown", true)
	if err != nil && !errors.Is(err, queue.ErrNotProcessing) {
		logger.Warn("failed to release interrupted task; reconcile will reclaim it",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stage_release_failed"),
		)
		return
	}
	logger.Info("stage interrupted by shutdown",
		logging.String("resolved_status", string(status)),
		logging.Duration("stage_duration", elapsed),
		logging.String(logging.FieldEventType, "stage_interrupted"),
	)
	metrics.ObserveTask(string(task.Type), metrics.OutcomeCancelled, elapsed)
}

func failureMessage(task *queue.Task, err error) string {
	message := ""
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = string(task.Type) + " failed without error detail"
	}
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage]
	}
	return message
}
