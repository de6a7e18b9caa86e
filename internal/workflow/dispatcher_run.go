package workflow

import (
	"context"
	"errors"
	"time"

	"rivalcast/internal/logging"
	"rivalcast/internal/metrics"
	"rivalcast/internal/queue"
)

const errorBackoff = 2 * time.Second

func (d *Dispatcher) claimLoop(ctx context.Context) {
	defer d.loops.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := d.fill(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.setLastError(err)
			d.logger.Error("failed to claim processing tasks",
				logging.Error(err),
				logging.String(logging.FieldEventType, "task_claim_failed"),
				logging.String(logging.FieldErrorHint, "check task database access"),
			)
			if !sleepCtx(ctx, errorBackoff) {
				return
			}
			continue
		}
		d.waitForWork(ctx)
	}
}

// fill promotes due retries and claims tasks until the ceiling is reached or
// nothing is claimable.
func (d *Dispatcher) fill(ctx context.Context) error {
	if promoted, err := d.store.PromoteRetries(ctx); err != nil {
		return err
	} else if promoted > 0 {
		d.logger.Debug("promoted retry tasks", logging.Int64("count", promoted))
	}
	for d.inflightCount() < d.concurrency {
		task, err := d.store.ClaimNext(ctx, d.concurrency)
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}
		d.launch(ctx, task)
	}
	return nil
}

func (d *Dispatcher) launch(ctx context.Context, task *queue.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	run := &inflightTask{task: task, started: time.Now(), cancel: cancel}
	d.mu.Lock()
	d.inflight[task.ClaimID] = run
	d.tasks.Add(1)
	d.mu.Unlock()

	metrics.TasksClaimed.WithLabelValues(string(task.Type)).Inc()
	metrics.TasksInflight.Inc()

	go func() {
		defer d.tasks.Done()
		defer d.release(run)
		d.runTask(taskCtx, ctx, task)
	}()
}

// release drops run from the in-flight set. Only the entry run itself
// registered is removed.
func (d *Dispatcher) release(run *inflightTask) {
	run.cancel()
	d.mu.Lock()
	if d.inflight[run.task.ClaimID] == run {
		delete(d.inflight, run.task.ClaimID)
	}
	d.mu.Unlock()
	metrics.TasksInflight.Dec()
	select {
	case d.freed <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) waitForWork(ctx context.Context) {
	wait := d.pollInterval
	if next, err := d.store.NextRetryAt(ctx); err == nil && !next.IsZero() {
		if until := time.Until(next); until < wait {
			wait = max(until, 10*time.Millisecond)
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-d.waker.C():
	case <-d.freed:
	case <-timer.C:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
