package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a write transaction handed to WithTx callbacks. All writes made
// through it commit or roll back together.
type Tx struct {
	tx       *sql.Tx
	store    *Store
	now      time.Time
	enqueued []int64
}

// WithTx runs fn inside a single immediate transaction. The callback may be
// invoked again when SQLite reports the database busy, so it must not have
// side effects outside the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		tx := &Tx{tx: sqlTx, store: s, now: s.now()}
		if err := fn(tx); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// Now is the timestamp applied to every write in this transaction.
func (t *Tx) Now() time.Time {
	return t.now
}

// Enqueued lists the task IDs created through this transaction.
func (t *Tx) Enqueued() []int64 {
	out := make([]int64, len(t.enqueued))
	copy(out, t.enqueued)
	return out
}

// Task loads a task inside the transaction.
func (t *Tx) Task(ctx context.Context, id int64) (*Task, error) {
	return getTask(ctx, t.tx, id)
}

// Order loads an order inside the transaction.
func (t *Tx) Order(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, t.tx, id)
}

// VideoFile loads a video file inside the transaction.
func (t *Tx) VideoFile(ctx context.Context, id int64) (*VideoFile, error) {
	return getVideoFile(ctx, t.tx, id)
}

// Segment loads a segment inside the transaction.
func (t *Tx) Segment(ctx context.Context, id int64) (*Segment, error) {
	return getSegment(ctx, t.tx, id)
}

// CompleteTask moves a claimed processing task to completed. It returns
// ErrNotProcessing when the task was cancelled, reclaimed or claimed again in
// the meantime, in which case the caller must discard its result.
func (t *Tx) CompleteTask(ctx context.Context, task *Task) error {
	id := task.ID
	now := formatTime(t.now)
	res, err := t.tx.ExecContext(ctx,
		`UPDATE processing_tasks
		 SET status = ?, error_message = NULL, completed_at = ?, heartbeat_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND claim_id IS ?`,
		StatusCompleted, now, now, id, StatusProcessing, nullableString(task.ClaimID),
	)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("complete task %d: %w", id, ErrNotProcessing)
	}
	return nil
}

// Enqueue inserts a pending task inside the transaction.
func (t *Tx) Enqueue(ctx context.Context, task NewTask) (int64, error) {
	id, err := t.store.enqueue(ctx, t.tx, t.now, task)
	if err != nil {
		return 0, err
	}
	t.enqueued = append(t.enqueued, id)
	return id, nil
}

// InsertSegments records the segments cut from a video file and returns their
// IDs in the order supplied. Re-inserting an index replaces its descriptor.
func (t *Tx) InsertSegments(ctx context.Context, orderID, videoFileID int64, specs []SegmentSpec) ([]int64, error) {
	now := formatTime(t.now)
	ids := make([]int64, 0, len(specs))
	for _, spec := range specs {
		var id int64
		err := t.tx.QueryRowContext(ctx,
			`INSERT INTO segments (video_file_id, order_id, segment_index, start_seconds, duration_seconds, path, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (video_file_id, segment_index) DO UPDATE SET
			     start_seconds = excluded.start_seconds,
			     duration_seconds = excluded.duration_seconds,
			     path = excluded.path,
			     updated_at = excluded.updated_at
			 RETURNING id`,
			videoFileID, orderID, spec.Index, spec.StartSeconds, spec.DurationSeconds, spec.Path, SegmentPending, now, now,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert segment %d of file %d: %w", spec.Index, videoFileID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SetVideoFileProcessing records how far a video file has progressed.
func (t *Tx) SetVideoFileProcessing(ctx context.Context, videoFileID int64, status FileStatus) error {
	return t.execOne(ctx, "set video file status",
		`UPDATE video_files SET processing_status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(t.now), videoFileID)
}

// SetVideoFilePaths stores produced media paths. Empty values keep the
// existing column.
func (t *Tx) SetVideoFilePaths(ctx context.Context, videoFileID int64, localPath, transcodedPath string) error {
	return t.execOne(ctx, "set video file paths",
		`UPDATE video_files
		 SET local_path = COALESCE(?, local_path),
		     transcoded_path = COALESCE(?, transcoded_path),
		     updated_at = ?
		 WHERE id = ?`,
		nullableString(localPath), nullableString(transcodedPath), formatTime(t.now), videoFileID)
}

// SetVideoFileSize stores the byte size of the downloaded media.
func (t *Tx) SetVideoFileSize(ctx context.Context, videoFileID, size int64) error {
	return t.execOne(ctx, "set video file size",
		`UPDATE video_files SET byte_size = MAX(byte_size, ?), updated_at = ? WHERE id = ?`,
		size, formatTime(t.now), videoFileID)
}

// SetSegmentTranscript stores an ASR transcript and marks the segment transcribed.
func (t *Tx) SetSegmentTranscript(ctx context.Context, segmentID int64, transcript string) error {
	return t.execOne(ctx, "set segment transcript",
		`UPDATE segments SET transcript = ?, status = ?, updated_at = ? WHERE id = ?`,
		transcript, SegmentTranscribed, formatTime(t.now), segmentID)
}

// SetSegmentAnalysis stores the opaque analysis payload and marks the segment
// analyzed.
func (t *Tx) SetSegmentAnalysis(ctx context.Context, segmentID int64, payload string) error {
	return t.execOne(ctx, "set segment analysis",
		`UPDATE segments SET analysis_result = ?, status = ?, updated_at = ? WHERE id = ?`,
		payload, SegmentAnalyzed, formatTime(t.now), segmentID)
}

// CompleteFileIfAnalyzed marks a segmented video file completed once every
// one of its segments is analyzed. It reports whether the file changed.
func (t *Tx) CompleteFileIfAnalyzed(ctx context.Context, videoFileID int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE video_files SET processing_status = ?, updated_at = ?
		 WHERE id = ? AND processing_status = ?
		   AND EXISTS (SELECT 1 FROM segments WHERE video_file_id = ?)
		   AND NOT EXISTS (SELECT 1 FROM segments WHERE video_file_id = ? AND status <> ?)`,
		FileCompleted, formatTime(t.now), videoFileID, FileSegmented, videoFileID, videoFileID, SegmentAnalyzed,
	)
	if err != nil {
		return false, fmt.Errorf("complete video file %d: %w", videoFileID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ReportReady enqueues the order's report task when every video file is
// completed, every segment is analyzed and no report task exists yet. The
// guard lives in the INSERT itself, so concurrent callers create at most one
// report. It returns the new task ID, or zero when nothing was enqueued.
func (t *Tx) ReportReady(ctx context.Context, orderID int64, priority int) (int64, error) {
	now := formatTime(t.now)
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO processing_tasks (order_id, target_id, task_type, status, priority, retry_count, max_retries, available_at, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, 0, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM video_files WHERE order_id = ?)
		   AND NOT EXISTS (SELECT 1 FROM video_files WHERE order_id = ? AND processing_status <> ?)
		   AND NOT EXISTS (SELECT 1 FROM segments WHERE order_id = ? AND status <> ?)
		   AND NOT EXISTS (SELECT 1 FROM processing_tasks WHERE order_id = ? AND task_type = ?)`,
		orderID, orderID, TaskReport, StatusPending, priority, t.store.maxRetries, now, now, now,
		orderID,
		orderID, FileCompleted,
		orderID, SegmentAnalyzed,
		orderID, TaskReport,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue report for order %d: %w", orderID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil || affected == 0 {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("report task id: %w", err)
	}
	t.enqueued = append(t.enqueued, id)
	return id, nil
}

// CompleteOrder marks the order completed and records its report location.
// It refuses while any video file or segment of the order is unfinished.
func (t *Tx) CompleteOrder(ctx context.Context, orderID int64, reportPath, reportURI string) error {
	now := formatTime(t.now)
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = ?, report_path = ?, report_uri = ?, error_message = NULL, completed_at = ?, updated_at = ?
		 WHERE id = ?
		   AND NOT EXISTS (SELECT 1 FROM video_files WHERE order_id = ? AND processing_status <> ?)
		   AND NOT EXISTS (SELECT 1 FROM segments WHERE order_id = ? AND status <> ?)`,
		OrderCompleted, nullableString(reportPath), nullableString(reportURI), now, now,
		orderID,
		orderID, FileCompleted,
		orderID, SegmentAnalyzed,
	)
	if err != nil {
		return fmt.Errorf("complete order %d: %w", orderID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := getOrder(ctx, t.tx, orderID); err != nil {
			return err
		}
		return fmt.Errorf("complete order %d: %w: unfinished files or segments", orderID, ErrInvalidTransition)
	}
	return nil
}

// FailOrder marks the order failed with a diagnostic message.
func (t *Tx) FailOrder(ctx context.Context, orderID int64, message string) error {
	return failOrder(ctx, t.tx, t.now, orderID, message)
}

func (t *Tx) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func failOrder(ctx context.Context, q querier, at time.Time, orderID int64, message string) error {
	now := formatTime(at)
	res, err := q.ExecContext(ctx,
		`UPDATE orders SET status = ?, needs_attention = 1, error_message = ?, updated_at = ? WHERE id = ?`,
		OrderFailed, nullableString(message), now, orderID,
	)
	if err != nil {
		return fmt.Errorf("fail order %d: %w", orderID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("fail order %d: %w", orderID, ErrOrderNotFound)
	}
	return nil
}

func notFound(err error, target error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, target)
	}
	return fmt.Errorf("load %s %d: %w", what, id, err)
}
