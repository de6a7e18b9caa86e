package workflow

import (
	"context"
	"sort"
	"time"

	"rivalcast/internal/queue"
	"rivalcast/internal/stage"
)

// RunningTask describes one execution in this process.
type RunningTask struct {
	TaskID   int64
	OrderID  int64
	TargetID int64
	Type     queue.TaskType
	Started  time.Time
}

// StatusSummary represents lightweight dispatcher diagnostics.
type StatusSummary struct {
	Running     bool
	Concurrency int
	Inflight    []RunningTask
	LastError   string
	LastTask    *queue.Task
	StageHealth []stage.Health
}

// Status returns the latest dispatcher information.
func (d *Dispatcher) Status(ctx context.Context) StatusSummary {
	d.mu.Lock()
	summary := StatusSummary{Running: d.running, Concurrency: d.concurrency}
	for _, running := range d.inflight {
		summary.Inflight = append(summary.Inflight, RunningTask{
			TaskID:   running.task.ID,
			OrderID:  running.task.OrderID,
			TargetID: running.task.TargetID,
			Type:     running.task.Type,
			Started:  running.started,
		})
	}
	if d.lastErr != nil {
		summary.LastError = d.lastErr.Error()
	}
	if d.lastTask != nil {
		copy := *d.lastTask
		summary.LastTask = &copy
	}
	d.mu.Unlock()

	sort.Slice(summary.Inflight, func(i, j int) bool { return summary.Inflight[i].TaskID < summary.Inflight[j].TaskID })
	summary.StageHealth = d.registry.HealthCheck(ctx)
	return summary
}

func (d *Dispatcher) setLastError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

func (d *Dispatcher) setLastTask(task *queue.Task) {
	d.mu.Lock()
	if task != nil {
		copy := *task
		d.lastTask = &copy
	} else {
		d.lastTask = nil
	}
	d.mu.Unlock()
}
