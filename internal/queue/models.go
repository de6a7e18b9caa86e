package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TaskType identifies the stage a processing task runs.
type TaskType string

const (
	TaskDownload  TaskType = "download"
	TaskTranscode TaskType = "transcode"
	TaskSegment   TaskType = "segment"
	TaskASR       TaskType = "asr"
	TaskAnalysis  TaskType = "analysis"
	TaskReport    TaskType = "report"
)

var taskTypeOrder = []TaskType{
	TaskDownload,
	TaskTranscode,
	TaskSegment,
	TaskASR,
	TaskAnalysis,
	TaskReport,
}

// AllTaskTypes returns the task types in pipeline order.
func AllTaskTypes() []TaskType {
	out := make([]TaskType, len(taskTypeOrder))
	copy(out, taskTypeOrder)
	return out
}

// ParseTaskType converts a string into a known task type.
func ParseTaskType(value string) (TaskType, bool) {
	normalized := TaskType(strings.ToLower(strings.TrimSpace(value)))
	for _, tt := range taskTypeOrder {
		if tt == normalized {
			return tt, true
		}
	}
	return "", false
}

// TargetKind reports which entity a task of this type operates on.
func (t TaskType) TargetKind() string {
	switch t {
	case TaskDownload, TaskTranscode, TaskSegment:
		return "video_file"
	case TaskASR, TaskAnalysis:
		return "segment"
	case TaskReport:
		return "order"
	default:
		return ""
	}
}

// Status is the lifecycle state of a processing task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
	StatusCancelled  Status = "cancelled"
)

var statusOrder = []Status{
	StatusPending,
	StatusProcessing,
	StatusRetry,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns the ordered list of known task statuses.
func AllStatuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// ParseStatus converts a string into a known status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, st := range statusOrder {
		if st == normalized {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status ends the automatic lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions lists every legal status change. Leaving failed or cancelled
// is only possible through RequeueOrder.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusRetry, StatusFailed, StatusCancelled},
	StatusRetry:      {StatusPending, StatusCancelled},
	StatusFailed:     {StatusPending},
	StatusCancelled:  {StatusPending},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderReviewing  OrderStatus = "reviewing"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
)

// RecordingStatus tracks live capture of a video file.
type RecordingStatus string

const (
	RecordingPending   RecordingStatus = "pending"
	RecordingActive    RecordingStatus = "recording"
	RecordingCompleted RecordingStatus = "completed"
	RecordingFailed    RecordingStatus = "failed"
	RecordingStopped   RecordingStatus = "stopped"
)

// FileStatus tracks how far a video file has progressed through the pipeline.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileDownloaded FileStatus = "downloaded"
	FileTranscoded FileStatus = "transcoded"
	FileSegmented  FileStatus = "segmented"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

// SegmentStatus tracks a single audio segment.
type SegmentStatus string

const (
	SegmentPending     SegmentStatus = "pending"
	SegmentTranscribed SegmentStatus = "transcribed"
	SegmentAnalyzed    SegmentStatus = "analyzed"
	SegmentFailed      SegmentStatus = "failed"
)

// RoleSelf marks the operator's own recording; competitors use RoleCompetitor.
const RoleSelf = "self"

// RoleCompetitor formats the role of the n-th competitor recording (1-based).
func RoleCompetitor(n int) string {
	return fmt.Sprintf("competitor#%d", n)
}

// CompetitorIndex parses a RoleCompetitor role. It reports false for self
// and for malformed roles.
func CompetitorIndex(role string) (int, bool) {
	rest, ok := strings.CutPrefix(role, "competitor#")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Order groups one self recording with its competitor recordings.
type Order struct {
	ID             int64
	Status         OrderStatus
	NeedsAttention bool
	ErrorMessage   string
	ReportPath     string
	ReportURI      string
	Priority       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// VideoFile is one participant's recording inside an order.
type VideoFile struct {
	ID                int64
	OrderID           int64
	Role              string
	SourceURL         string
	LocalPath         string
	TranscodedPath    string
	CapturePath       string
	ProcessingStatus  FileStatus
	RecordingStatus   RecordingStatus
	RecordingProgress float64
	ExpectedDuration  float64
	ByteSize          int64
	RecordingMessage  string
	RecordingStarted  *time.Time
	RecordingBeat     *time.Time
	RecordingEnded    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Segment is a fixed-length audio chunk cut from a transcoded video file.
type Segment struct {
	ID              int64
	VideoFileID     int64
	OrderID         int64
	Index           int
	StartSeconds    float64
	DurationSeconds float64
	Path            string
	Status          SegmentStatus
	Transcript      string
	AnalysisResult  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SegmentSpec describes a segment produced by the segment stage.
type SegmentSpec struct {
	Index           int
	StartSeconds    float64
	DurationSeconds float64
	Path            string
}

// Task is a unit of stage work persisted in processing_tasks.
type Task struct {
	ID           int64
	OrderID      int64
	TargetID     int64
	Type         TaskType
	Status       Status
	Priority     int
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	AvailableAt  time.Time
	HeartbeatAt  *time.Time
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
	// ClaimID identifies the claim that last moved the task to processing.
	// Completion and failure only apply while it still matches.
	ClaimID      string
}

// NoRetries requests a task that fails on its first error.
const NoRetries = -1

// NewTask describes a task to enqueue. A zero MaxRetries selects the store
// default; NoRetries disables retries.
type NewTask struct {
	OrderID    int64
	TargetID   int64
	Type       TaskType
	Priority   int
	MaxRetries int
}

// NewFile describes a video file supplied at order intake.
type NewFile struct {
	Role             string
	SourceURL        string
	ExpectedDuration float64
}

// RecordingEvent is a progress report from a live capture.
type RecordingEvent struct {
	VideoFileID    int64
	Message        string
	ElapsedSeconds float64
	BytesWritten   int64
	At             time.Time
}

// StatusCounts maps task statuses to row counts.
type StatusCounts map[Status]int

// DatabaseHealth captures diagnostic information about the task database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	IntegrityCheck   bool
	TotalTasks       int
	Error            string
}
