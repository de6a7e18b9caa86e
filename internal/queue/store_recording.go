package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StartRecording moves a pending video file into recording and clears any
// previous progress. A positive expected duration replaces the stored one.
// It reports false when the file was not pending.
func (s *Store) StartRecording(ctx context.Context, videoFileID int64, expected float64, at time.Time) (bool, error) {
	now := formatTime(at)
	res, err := s.execWithRetry(ctx,
		`UPDATE video_files
		 SET recording_status = ?, recording_progress_seconds = 0, byte_size = 0, recording_message = NULL,
		     recording_started_at = ?, recording_heartbeat_at = ?, recording_ended_at = NULL,
		     expected_duration_seconds = CASE WHEN ? > 0 THEN ? ELSE expected_duration_seconds END,
		     updated_at = ?
		 WHERE id = ? AND recording_status = ?`,
		RecordingActive, now, now, expected, expected, now, videoFileID, RecordingPending,
	)
	return affectedOne(res, err, "start recording")
}

// ApplyRecordingEvent stores a heartbeat while the file is recording and the
// reported elapsed time does not go backwards. Bytes never decrease. It
// reports false when the event was not applied.
func (s *Store) ApplyRecordingEvent(ctx context.Context, event RecordingEvent) (bool, error) {
	at := event.At
	if at.IsZero() {
		at = s.now()
	}
	now := formatTime(at)
	res, err := s.execWithRetry(ctx,
		`UPDATE video_files
		 SET recording_progress_seconds = ?, byte_size = MAX(byte_size, ?), recording_message = ?,
		     recording_heartbeat_at = ?, updated_at = ?
		 WHERE id = ? AND recording_status = ? AND recording_progress_seconds <= ?`,
		event.ElapsedSeconds, max(event.BytesWritten, 0), nullableString(event.Message), now, now,
		event.VideoFileID, RecordingActive, event.ElapsedSeconds,
	)
	return affectedOne(res, err, "apply recording event")
}

// FinishRecording moves a recording file to a terminal recording status.
// A non-empty message replaces the latest progress message. It reports false
// when the file was not recording.
func (s *Store) FinishRecording(ctx context.Context, videoFileID int64, status RecordingStatus, message string, at time.Time) (bool, error) {
	switch status {
	case RecordingCompleted, RecordingStopped, RecordingFailed:
	default:
		return false, fmt.Errorf("finish recording: %w: %s", ErrInvalidTransition, status)
	}
	now := formatTime(at)
	res, err := s.execWithRetry(ctx,
		`UPDATE video_files
		 SET recording_status = ?, recording_message = COALESCE(?, recording_message),
		     recording_ended_at = ?, updated_at = ?
		 WHERE id = ? AND recording_status = ?`,
		status, nullableString(message), now, now, videoFileID, RecordingActive,
	)
	return affectedOne(res, err, "finish recording")
}

// StopRecording ends a recording. The file completes when its stored
// progress reached the expected duration, or when it has no expected
// duration and streamEnded is set; otherwise it is stopped. The status is
// decided by the same statement that ends the recording, so a heartbeat
// landing just before is taken into account. It returns the ended file, or
// nil when the file was not recording.
func (s *Store) StopRecording(ctx context.Context, videoFileID int64, streamEnded bool, at time.Time) (*VideoFile, error) {
	ctx = ensureContext(ctx)
	now := formatTime(at)
	ended := 0
	if streamEnded {
		ended = 1
	}
	var file *VideoFile
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`UPDATE video_files
			 SET recording_status = CASE
			         WHEN expected_duration_seconds > 0 AND recording_progress_seconds >= expected_duration_seconds THEN ?
			         WHEN expected_duration_seconds <= 0 AND ? = 1 THEN ?
			         ELSE ? END,
			     recording_ended_at = ?, updated_at = ?
			 WHERE id = ? AND recording_status = ?
			 RETURNING `+videoFileColumns,
			RecordingCompleted, ended, RecordingCompleted, RecordingStopped,
			now, now, videoFileID, RecordingActive,
		)
		stopped, err := scanVideoFile(row)
		if errors.Is(err, sql.ErrNoRows) {
			file = nil
			return nil
		}
		if err != nil {
			return err
		}
		file = stopped
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stop recording: %w", err)
	}
	return file, nil
}

// ResetRecording returns a file that is not recording to pending and clears
// its capture progress. It reports false when the file is recording.
func (s *Store) ResetRecording(ctx context.Context, videoFileID int64, at time.Time) (bool, error) {
	now := formatTime(at)
	res, err := s.execWithRetry(ctx,
		`UPDATE video_files
		 SET recording_status = ?, recording_progress_seconds = 0, byte_size = 0, recording_message = NULL,
		     recording_started_at = NULL, recording_heartbeat_at = NULL, recording_ended_at = NULL,
		     capture_path = NULL, updated_at = ?
		 WHERE id = ? AND recording_status <> ?`,
		RecordingPending, now, videoFileID, RecordingActive,
	)
	return affectedOne(res, err, "reset recording")
}

// SetCapturePath records where a live capture is being written.
func (s *Store) SetCapturePath(ctx context.Context, videoFileID int64, path string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE video_files SET capture_path = ?, updated_at = ? WHERE id = ?`,
		nullableString(path), formatTime(s.now()), videoFileID,
	)
	ok, err := affectedOne(res, err, "set capture path")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set capture path: video file %d: %w", videoFileID, ErrNotFound)
	}
	return nil
}

// VideoFilesByRecordingStatus lists video files in the given recording status.
func (s *Store) VideoFilesByRecordingStatus(ctx context.Context, status RecordingStatus) ([]*VideoFile, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+videoFileColumns+` FROM video_files WHERE recording_status = ? ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("list recording files: %w", err)
	}
	defer rows.Close()
	var files []*VideoFile
	for rows.Next() {
		file, err := scanVideoFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video file: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func affectedOne(res interface{ RowsAffected() (int64, error) }, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return affected > 0, nil
}
