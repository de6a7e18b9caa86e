package api

import (
	"time"

	"rivalcast/internal/workflow"
)

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Database   DatabaseStatus    `json:"database"`
	Tasks      map[string]int    `json:"tasks"`
	Dispatcher *DispatcherStatus `json:"dispatcher,omitempty"`
}

// DatabaseStatus mirrors queue.DatabaseHealth.
type DatabaseStatus struct {
	Path          string `json:"path"`
	Readable      bool   `json:"readable"`
	SchemaVersion int    `json:"schema_version"`
	Integrity     bool   `json:"integrity"`
	Error         string `json:"error,omitempty"`
}

// DispatcherStatus summarizes the in-process dispatcher.
type DispatcherStatus struct {
	Running     bool          `json:"running"`
	Concurrency int           `json:"concurrency"`
	Inflight    []RunningTask `json:"inflight"`
	LastError   string        `json:"last_error,omitempty"`
	StageHealth []StageHealth `json:"stage_health"`
}

// RunningTask is one execution of the dispatcher.
type RunningTask struct {
	TaskID   int64     `json:"task_id"`
	OrderID  int64     `json:"order_id"`
	TargetID int64     `json:"target_id"`
	TaskType string    `json:"task_type"`
	Started  time.Time `json:"started_at"`
}

// StageHealth mirrors readiness reporting for stage executors.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// TaskResponse is returned by POST /api/tasks.
type TaskResponse struct {
	TaskID int64 `json:"task_id"`
}

// RecordingStateResponse is returned by recording commands.
type RecordingStateResponse struct {
	VideoFileID     int64  `json:"video_file_id"`
	RecordingStatus string `json:"recording_status"`
}

// HeartbeatRequest is the body of POST /api/video-files/{id}/recording/heartbeat.
type HeartbeatRequest struct {
	Message        string  `json:"message"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	BytesWritten   int64   `json:"bytes_written"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// FromStatusSummary converts dispatcher diagnostics into the wire format.
func FromStatusSummary(summary workflow.StatusSummary) *DispatcherStatus {
	out := &DispatcherStatus{
		Running:     summary.Running,
		Concurrency: summary.Concurrency,
		Inflight:    make([]RunningTask, 0, len(summary.Inflight)),
		LastError:   summary.LastError,
		StageHealth: make([]StageHealth, 0, len(summary.StageHealth)),
	}
	for _, running := range summary.Inflight {
		out.Inflight = append(out.Inflight, RunningTask{
			TaskID:   running.TaskID,
			OrderID:  running.OrderID,
			TargetID: running.TargetID,
			TaskType: string(running.Type),
			Started:  running.Started,
		})
	}
	for _, health := range summary.StageHealth {
		out.StageHealth = append(out.StageHealth, StageHealth{Name: health.Name, Ready: health.Ready, Detail: health.Detail})
	}
	return out
}
