package queue

import (
	"database/sql"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw sql.NullString) time.Time {
	if !raw.Valid || raw.String == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(timeLayout, raw.String); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw.String); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}

func parseTimePtr(raw sql.NullString) *time.Time {
	ts := parseTime(raw)
	if ts.IsZero() {
		return nil
	}
	return &ts
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

type scanner interface {
	Scan(dest ...any) error
}

const taskColumns = "id, order_id, target_id, task_type, status, priority, retry_count, max_retries, error_message, available_at, heartbeat_at, created_at, started_at, completed_at, updated_at, claim_id"

func scanTask(row scanner) (*Task, error) {
	var (
		task         Task
		taskType     string
		status       string
		errorMessage sql.NullString
		availableRaw sql.NullString
		heartbeatRaw sql.NullString
		createdRaw   sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   sql.NullString
		claimID      sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.OrderID,
		&task.TargetID,
		&taskType,
		&status,
		&task.Priority,
		&task.RetryCount,
		&task.MaxRetries,
		&errorMessage,
		&availableRaw,
		&heartbeatRaw,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
		&claimID,
	); err != nil {
		return nil, err
	}
	task.Type = TaskType(taskType)
	task.Status = Status(status)
	task.ErrorMessage = errorMessage.String
	task.AvailableAt = parseTime(availableRaw)
	task.HeartbeatAt = parseTimePtr(heartbeatRaw)
	task.CreatedAt = parseTime(createdRaw)
	task.StartedAt = parseTimePtr(startedRaw)
	task.CompletedAt = parseTimePtr(completedRaw)
	task.UpdatedAt = parseTime(updatedRaw)
	task.ClaimID = claimID.String
	return &task, nil
}

const orderColumns = "id, status, needs_attention, error_message, report_path, report_uri, priority, created_at, updated_at, completed_at"

func scanOrder(row scanner) (*Order, error) {
	var (
		order          Order
		status         string
		needsAttention sql.NullInt64
		errorMessage   sql.NullString
		reportPath     sql.NullString
		reportURI      sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
		completedRaw   sql.NullString
	)
	if err := row.Scan(
		&order.ID,
		&status,
		&needsAttention,
		&errorMessage,
		&reportPath,
		&reportURI,
		&order.Priority,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	order.Status = OrderStatus(status)
	order.NeedsAttention = needsAttention.Valid && needsAttention.Int64 != 0
	order.ErrorMessage = errorMessage.String
	order.ReportPath = reportPath.String
	order.ReportURI = reportURI.String
	order.CreatedAt = parseTime(createdRaw)
	order.UpdatedAt = parseTime(updatedRaw)
	order.CompletedAt = parseTimePtr(completedRaw)
	return &order, nil
}

const videoFileColumns = "id, order_id, role, source_url, local_path, transcoded_path, capture_path, processing_status, recording_status, recording_progress_seconds, expected_duration_seconds, byte_size, recording_message, recording_started_at, recording_heartbeat_at, recording_ended_at, created_at, updated_at"

func scanVideoFile(row scanner) (*VideoFile, error) {
	var (
		file             VideoFile
		sourceURL        sql.NullString
		localPath        sql.NullString
		transcodedPath   sql.NullString
		capturePath      sql.NullString
		processingStatus string
		recordingStatus  string
		message          sql.NullString
		startedRaw       sql.NullString
		beatRaw          sql.NullString
		endedRaw         sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)
	if err := row.Scan(
		&file.ID,
		&file.OrderID,
		&file.Role,
		&sourceURL,
		&localPath,
		&transcodedPath,
		&capturePath,
		&processingStatus,
		&recordingStatus,
		&file.RecordingProgress,
		&file.ExpectedDuration,
		&file.ByteSize,
		&message,
		&startedRaw,
		&beatRaw,
		&endedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	file.SourceURL = sourceURL.String
	file.LocalPath = localPath.String
	file.TranscodedPath = transcodedPath.String
	file.CapturePath = capturePath.String
	file.ProcessingStatus = FileStatus(processingStatus)
	file.RecordingStatus = RecordingStatus(recordingStatus)
	file.RecordingMessage = message.String
	file.RecordingStarted = parseTimePtr(startedRaw)
	file.RecordingBeat = parseTimePtr(beatRaw)
	file.RecordingEnded = parseTimePtr(endedRaw)
	file.CreatedAt = parseTime(createdRaw)
	file.UpdatedAt = parseTime(updatedRaw)
	return &file, nil
}

const segmentColumns = "id, video_file_id, order_id, segment_index, start_seconds, duration_seconds, path, status, transcript, analysis_result, created_at, updated_at"

func scanSegment(row scanner) (*Segment, error) {
	var (
		segment    Segment
		status     string
		transcript sql.NullString
		analysis   sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := row.Scan(
		&segment.ID,
		&segment.VideoFileID,
		&segment.OrderID,
		&segment.Index,
		&segment.StartSeconds,
		&segment.DurationSeconds,
		&segment.Path,
		&status,
		&transcript,
		&analysis,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	segment.Status = SegmentStatus(status)
	segment.Transcript = transcript.String
	segment.AnalysisResult = analysis.String
	segment.CreatedAt = parseTime(createdRaw)
	segment.UpdatedAt = parseTime(updatedRaw)
	return &segment, nil
}
