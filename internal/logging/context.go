package logging

import (
	"context"
	"log/slog"

	"rivalcast/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldOrderID identifies the order a log line relates to.
	FieldOrderID = "order_id"
	// FieldTaskID identifies the processing task a log line relates to.
	FieldTaskID = "task_id"
	// FieldTaskType is the task type (download, transcode, ...).
	FieldTaskType = "task_type"
	// FieldVideoFileID identifies a participant recording.
	FieldVideoFileID = "video_file_id"
	// FieldSegmentID identifies a media segment.
	FieldSegmentID = "segment_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldOperator names the operator that issued a command.
	FieldOperator = "operator"
	// FieldEventType classifies a log line for filtering (e.g. task_retry, heartbeat_rejected).
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.OrderIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldOrderID, id))
	}
	if id, ok := services.TaskIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldTaskID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	if op, ok := services.OperatorFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldOperator, op))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
