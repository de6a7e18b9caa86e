// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcome labels.
const (
	OutcomeCompleted = "completed"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeDiscarded = "discarded"
)

var (
	TasksClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rivalcast_tasks_claimed_total",
		Help: "Processing tasks claimed by this dispatcher",
	}, []string{"task_type"})

	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rivalcast_task_outcomes_total",
		Help: "Finished task executions by task type and outcome",
	}, []string{"task_type", "outcome"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rivalcast_task_duration_seconds",
		Help:    "Wall time of stage executions",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"task_type"})

	TasksInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rivalcast_tasks_inflight",
		Help: "Tasks currently executing in this process",
	})

	TasksReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rivalcast_tasks_reclaimed_total",
		Help: "Processing tasks reclaimed after a missed heartbeat",
	})

	RecordingHeartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rivalcast_recording_heartbeats_total",
		Help: "Recording progress events by result",
	}, []string{"result"})

	RecordingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rivalcast_recordings_active",
		Help: "Captures currently supervised by this process",
	})

	OrdersFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rivalcast_orders_finished_total",
		Help: "Orders that reached a terminal status",
	}, []string{"status"})
)

// ObserveTask records one finished execution.
func ObserveTask(taskType, outcome string, elapsed time.Duration) {
	if taskType == "" {
		taskType = "unknown"
	}
	TaskOutcomes.WithLabelValues(taskType, outcome).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// ObserveHeartbeat counts an accepted or rejected recording event.
func ObserveHeartbeat(accepted bool) {
	if accepted {
		RecordingHeartbeats.WithLabelValues("accepted").Inc()
		return
	}
	RecordingHeartbeats.WithLabelValues("rejected").Inc()
}
