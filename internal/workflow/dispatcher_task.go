package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"rivalcast/internal/logging"
	"rivalcast/internal/metrics"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/stage"
)

// runTask executes one claimed task. rootCtx is the dispatcher context; it is
// used to tell shutdown apart from an order cancellation.
func (d *Dispatcher) runTask(ctx, rootCtx context.Context, task *queue.Task) {
	ctx = withTaskContext(ctx, task, uuid.NewString())
	logger := logging.WithContext(ctx, d.logger)
	d.setLastTask(task)

	handler, err := d.registry.Handler(task.Type)
	if err != nil {
		d.handleFailure(ctx, logger, task, services.Wrap(services.ErrConfiguration, string(task.Type), "resolve handler", "", err), 0)
		return
	}

	started := time.Now()
	logger.Info("stage started",
		logging.Int("attempt", task.RetryCount+1),
		logging.String(logging.FieldEventType, "stage_start"),
	)
	result, err := d.execute(ctx, logger, handler, task)
	elapsed := time.Since(started)

	if err != nil {
		switch {
		case rootCtx.Err() != nil:
			d.handleShutdown(logger, task, elapsed)
		case ctx.Err() != nil || services.Classify(err) == services.OutcomeCancelled:
			logger.Info("stage cancelled",
				logging.Duration("stage_duration", elapsed),
				logging.String(logging.FieldEventType, "stage_cancelled"),
			)
			metrics.ObserveTask(string(task.Type), metrics.OutcomeCancelled, elapsed)
		default:
			d.handleFailure(ctx, logger, task, err, elapsed)
		}
		return
	}

	// The executor finished; persist even if shutdown started meanwhile.
	persistCtx := context.WithoutCancel(ctx)
	enqueued, err := d.complete(persistCtx, task, result)
	switch {
	case errors.Is(err, queue.ErrNotProcessing):
		logger.Info("stage result discarded; task left processing while executing",
			logging.Duration("stage_duration", elapsed),
			logging.String(logging.FieldEventType, "stage_result_discarded"),
		)
		metrics.ObserveTask(string(task.Type), metrics.OutcomeDiscarded, elapsed)
		return
	case err != nil:
		d.handleFailure(persistCtx, logger, task, err, elapsed)
		return
	}

	logger.Info("stage completed",
		logging.Duration("stage_duration", elapsed),
		logging.Int("enqueued", len(enqueued)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	metrics.ObserveTask(string(task.Type), metrics.OutcomeCompleted, elapsed)
	if len(enqueued) > 0 {
		d.waker.Notify(persistCtx)
	}
	if task.Type == queue.TaskReport {
		d.onOrderCompleted(persistCtx, logger, task.OrderID, result)
	}
}

// execute runs Prepare and Execute, converting a panic into a transient
// failure.
func (d *Dispatcher) execute(ctx context.Context, logger *slog.Logger, handler stage.Handler, task *queue.Task) (result stage.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("stage panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "stage_panic"),
			)
			result = stage.Result{}
			err = services.Wrap(services.ErrTransient, string(task.Type), "execute", fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	if err := handler.Prepare(ctx, task); err != nil {
		return stage.Result{}, err
	}
	return handler.Execute(ctx, task)
}

// complete marks the task completed and applies its fan-out atomically. It
// returns the IDs of the tasks the fan-out enqueued.
func (d *Dispatcher) complete(ctx context.Context, task *queue.Task, result stage.Result) ([]int64, error) {
	var enqueued []int64
	err := d.store.WithTx(ctx, func(tx *queue.Tx) error {
		if err := tx.CompleteTask(ctx, task); err != nil {
			return err
		}
		if err := applyFanout(ctx, tx, task, result); err != nil {
			return err
		}
		enqueued = tx.Enqueued()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enqueued, nil
}

func withTaskContext(ctx context.Context, task *queue.Task, requestID string) context.Context {
	ctx = services.WithOrderID(ctx, task.OrderID)
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithStage(ctx, string(task.Type))
	return services.WithRequestID(ctx, requestID)
}
