// Package status builds the read-only progress views polled by clients.
//
// Every query is a plain read against the task store. Values may be a few
// milliseconds behind concurrent writers, but a view never mixes rows from
// different orders.
package status

import (
	"context"
	"math"
	"sort"
	"time"

	"rivalcast/internal/config"
	"rivalcast/internal/queue"
	"rivalcast/internal/recording"
)

// TaskView is the client representation of a processing task.
type TaskView struct {
	ID           int64      `json:"id"`
	TargetID     int64      `json:"target_id"`
	TaskType     string     `json:"task_type"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// TaskStats counts an order's tasks. Retry counts as pending and cancelled
// counts as failed.
type TaskStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// CurrentTask names the task an order is working on.
type CurrentTask struct {
	ID        int64      `json:"id"`
	TaskType  string     `json:"task_type"`
	TargetID  int64      `json:"target_id"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// OrderProgress is the task progress view of one order.
type OrderProgress struct {
	OrderID        int64        `json:"order_id"`
	OrderStatus    string       `json:"order_status"`
	NeedsAttention bool         `json:"needs_attention"`
	ReportURI      string       `json:"report_uri,omitempty"`
	Tasks          []TaskView   `json:"tasks"`
	TaskStats      TaskStats    `json:"task_stats"`
	Progress       float64      `json:"progress"`
	CurrentTask    *CurrentTask `json:"current_task"`
	FailedTasks    []TaskView   `json:"failed_tasks"`
}

// LatestProgress is the most recent accepted heartbeat message.
type LatestProgress struct {
	Message   string     `json:"message"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// RecordingProgress is the live capture view of one video file.
type RecordingProgress struct {
	VideoFileID     int64          `json:"video_file_id"`
	Role            string         `json:"role"`
	RecordingStatus string         `json:"recording_status"`
	Percent         float64        `json:"recording_progress_percent"`
	DurationSeconds float64        `json:"duration_seconds"`
	FileSizeBytes   int64          `json:"file_size_bytes"`
	Stalled         bool           `json:"stalled"`
	LatestProgress  LatestProgress `json:"latest_progress"`
}

// Aggregator answers progress queries.
type Aggregator struct {
	store       *queue.Store
	staleWindow time.Duration
	now         func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New returns an aggregator reading from store.
func New(cfg *config.Config, store *queue.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:       store,
		staleWindow: cfg.RecordingStaleWindow(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OrderProgress summarizes the tasks of an order.
func (a *Aggregator) OrderProgress(ctx context.Context, orderID int64) (OrderProgress, error) {
	order, err := a.store.GetOrder(ctx, orderID)
	if err != nil {
		return OrderProgress{}, err
	}
	tasks, err := a.store.TasksForOrder(ctx, orderID)
	if err != nil {
		return OrderProgress{}, err
	}

	progress := OrderProgress{
		OrderID:        order.ID,
		OrderStatus:    string(order.Status),
		NeedsAttention: order.NeedsAttention,
		ReportURI:      order.ReportURI,
		Tasks:          make([]TaskView, 0, len(tasks)),
		FailedTasks:    []TaskView{},
	}
	var current *queue.Task
	for _, task := range tasks {
		view := taskView(task)
		progress.Tasks = append(progress.Tasks, view)
		progress.TaskStats.Total++
		switch task.Status {
		case queue.StatusPending, queue.StatusRetry:
			progress.TaskStats.Pending++
		case queue.StatusProcessing:
			progress.TaskStats.Processing++
			if current == nil || startedBefore(task, current) {
				current = task
			}
		case queue.StatusCompleted:
			progress.TaskStats.Completed++
		case queue.StatusFailed, queue.StatusCancelled:
			progress.TaskStats.Failed++
			progress.FailedTasks = append(progress.FailedTasks, view)
		}
	}
	if progress.TaskStats.Total > 0 {
		progress.Progress = percent(float64(progress.TaskStats.Completed), float64(progress.TaskStats.Total))
	}
	if current != nil {
		progress.CurrentTask = &CurrentTask{
			ID:        current.ID,
			TaskType:  string(current.Type),
			TargetID:  current.TargetID,
			StartedAt: current.StartedAt,
		}
	}
	return progress, nil
}

// RecordingProgress reports the capture progress of each video file of an
// order, ordered by file ID.
func (a *Aggregator) RecordingProgress(ctx context.Context, orderID int64) ([]RecordingProgress, error) {
	if _, err := a.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	files, err := a.store.VideoFilesForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })

	now := a.now()
	out := make([]RecordingProgress, 0, len(files))
	for _, file := range files {
		out = append(out, RecordingProgress{
			VideoFileID:     file.ID,
			Role:            file.Role,
			RecordingStatus: string(file.RecordingStatus),
			Percent:         recordingPercent(file),
			DurationSeconds: file.RecordingProgress,
			FileSizeBytes:   file.ByteSize,
			Stalled:         recording.Stalled(file, now, a.staleWindow),
			LatestProgress: LatestProgress{
				Message:   file.RecordingMessage,
				UpdatedAt: file.RecordingBeat,
			},
		})
	}
	return out, nil
}

func recordingPercent(file *queue.VideoFile) float64 {
	if file.RecordingStatus == queue.RecordingCompleted {
		return 100
	}
	if file.ExpectedDuration <= 0 {
		return 0
	}
	return math.Min(percent(file.RecordingProgress, file.ExpectedDuration), 100)
}

func percent(part, whole float64) float64 {
	return math.Round(part/whole*1000) / 10
}

func startedBefore(a, b *queue.Task) bool {
	switch {
	case a.StartedAt == nil:
		return false
	case b.StartedAt == nil:
		return true
	case a.StartedAt.Equal(*b.StartedAt):
		return a.ID < b.ID
	default:
		return a.StartedAt.Before(*b.StartedAt)
	}
}

func taskView(task *queue.Task) TaskView {
	return TaskView{
		ID:           task.ID,
		TargetID:     task.TargetID,
		TaskType:     string(task.Type),
		Status:       string(task.Status),
		RetryCount:   task.RetryCount,
		MaxRetries:   task.MaxRetries,
		ErrorMessage: task.ErrorMessage,
		StartedAt:    task.StartedAt,
		CompletedAt:  task.CompletedAt,
	}
}
