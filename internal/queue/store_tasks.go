package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enqueue inserts a pending task and returns its ID.
func (s *Store) Enqueue(ctx context.Context, task NewTask) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Enqueue(ctx, task)
		return err
	})
	return id, err
}

func (s *Store) enqueue(ctx context.Context, q querier, at time.Time, task NewTask) (int64, error) {
	if _, ok := ParseTaskType(string(task.Type)); !ok {
		return 0, fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, task.Type)
	}
	if task.OrderID <= 0 || task.TargetID <= 0 {
		return 0, fmt.Errorf("%w: order and target ids are required", ErrInvalidTask)
	}
	order, err := getOrder(ctx, q, task.OrderID)
	if err != nil {
		return 0, err
	}
	if order.Status == OrderFailed {
		return 0, fmt.Errorf("%w: order %d is failed; start analysis to resume it", ErrInvalidTask, order.ID)
	}
	if err := checkTarget(ctx, q, task); err != nil {
		return 0, err
	}

	maxRetries := task.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = s.maxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	now := formatTime(at)
	res, err := q.ExecContext(ctx,
		`INSERT INTO processing_tasks (order_id, target_id, task_type, status, priority, retry_count, max_retries, available_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		task.OrderID, task.TargetID, task.Type, StatusPending, task.Priority, maxRetries, now, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("task id: %w", err)
	}
	return id, nil
}

// checkTarget verifies that the task's target belongs to its order.
func checkTarget(ctx context.Context, q querier, task NewTask) error {
	var query string
	switch task.Type.TargetKind() {
	case "video_file":
		query = `SELECT COUNT(1) FROM video_files WHERE id = ? AND order_id = ?`
	case "segment":
		query = `SELECT COUNT(1) FROM segments WHERE id = ? AND order_id = ?`
	case "order":
		if task.TargetID != task.OrderID {
			return fmt.Errorf("%w: report target must be the order", ErrInvalidTask)
		}
		return nil
	}
	var count int
	if err := q.QueryRowContext(ctx, query, task.TargetID, task.OrderID).Scan(&count); err != nil {
		return fmt.Errorf("check task target: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s %d not found in order %d", ErrInvalidTask, task.Type.TargetKind(), task.TargetID, task.OrderID)
	}
	return nil
}

// ClaimNext atomically moves the best eligible pending task to processing
// under a fresh claim ID and marks its order processing in the same
// transaction. A task is eligible when its retry delay has passed, its order
// has not failed and no task with the same target and type is processing.
// Nothing is claimed when ceiling tasks are already processing. It returns
// nil, nil when no task is claimable.
func (s *Store) ClaimNext(ctx context.Context, ceiling int) (*Task, error) {
	if ceiling <= 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	var task *Task
	err := s.WithTx(ctx, func(tx *Tx) error {
		task = nil
		now := formatTime(tx.now)
		row := tx.tx.QueryRowContext(ctx,
			`UPDATE processing_tasks
			 SET status = ?, claim_id = ?, started_at = ?, heartbeat_at = ?, completed_at = NULL, updated_at = ?
			 WHERE status = ?
			   AND (SELECT COUNT(1) FROM processing_tasks WHERE status = ?) < ?
			   AND id = (
			       SELECT t.id FROM processing_tasks t
			       JOIN orders o ON o.id = t.order_id
			       WHERE t.status = ?
			         AND t.available_at <= ?
			         AND o.status <> ?
			         AND NOT EXISTS (
			             SELECT 1 FROM processing_tasks p
			             WHERE p.status = ? AND p.target_id = t.target_id AND p.task_type = t.task_type
			         )
			       ORDER BY t.priority DESC, t.created_at ASC, t.id ASC
			       LIMIT 1
			   )
			 RETURNING `+taskColumns,
			StatusProcessing, uuid.NewString(), now, now, now,
			StatusPending,
			StatusProcessing, ceiling,
			StatusPending,
			now,
			OrderFailed,
			StatusProcessing,
		)
		claimed, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if _, err := tx.tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			OrderProcessing, now, claimed.OrderID, OrderPending, OrderReviewing,
		); err != nil {
			return fmt.Errorf("mark order %d processing: %w", claimed.OrderID, err)
		}
		task = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask loads a task by ID.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	return getTask(ensureContext(ctx), s.db, id)
}

func getTask(ctx context.Context, q querier, id int64) (*Task, error) {
	task, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM processing_tasks WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, ErrNotFound, "task", id)
	}
	return task, nil
}

// TasksForOrder lists an order's tasks in creation order.
func (s *Store) TasksForOrder(ctx context.Context, orderID int64) ([]*Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM processing_tasks WHERE order_id = ? ORDER BY created_at, id`, orderID)
}

// TasksByStatus lists tasks in any of the given statuses, oldest first.
func (s *Store) TasksByStatus(ctx context.Context, statuses ...Status) ([]*Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = st
	}
	query := `SELECT ` + taskColumns + ` FROM processing_tasks WHERE status IN (` +
		strings.Join(placeholders, ",") + `) ORDER BY created_at, id`
	return s.queryTasks(ctx, query, args...)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ProcessingCount returns the number of tasks currently processing.
func (s *Store) ProcessingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM processing_tasks WHERE status = ?`, StatusProcessing).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count processing tasks: %w", err)
	}
	return count, nil
}

// FailTask records a failed attempt of a claimed task. Transient failures
// go to retry while retry_count is below max_retries and increment it;
// anything else fails the task for good. A final failure flags the order for
// attention, marks the task's target failed and, for report tasks, fails the
// order. It returns the status the task ended up in, or ErrNotProcessing when
// the claim no longer holds the task.
func (s *Store) FailTask(ctx context.Context, claimed *Task, message string, transient bool) (Status, error) {
	var status Status
	err := s.WithTx(ctx, func(tx *Tx) error {
		task, err := getTask(ctx, tx.tx, claimed.ID)
		if err != nil {
			return err
		}
		if task.Status != StatusProcessing || task.ClaimID != claimed.ClaimID {
			return fmt.Errorf("fail task %d (%s): %w", task.ID, task.Status, ErrNotProcessing)
		}
		status, err = s.failTask(ctx, tx.tx, tx.now, task, message, transient)
		return err
	})
	return status, err
}

func (s *Store) failTask(ctx context.Context, q querier, at time.Time, task *Task, message string, transient bool) (Status, error) {
	next := StatusFailed
	retryCount := task.RetryCount
	availableAt := at
	if transient && task.RetryCount < task.MaxRetries {
		next = StatusRetry
		retryCount++
		availableAt = at.Add(s.backoffFor(retryCount))
	}
	if err := checkTransition(task.Status, next); err != nil {
		return task.Status, err
	}

	now := formatTime(at)
	var completedAt any
	if next == StatusFailed {
		completedAt = now
	}
	res, err := q.ExecContext(ctx,
		`UPDATE processing_tasks
		 SET status = ?, retry_count = ?, error_message = ?, available_at = ?, heartbeat_at = NULL, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND claim_id IS ?`,
		next, retryCount, nullableString(message), formatTime(availableAt), completedAt, now,
		task.ID, StatusProcessing, nullableString(task.ClaimID),
	)
	if err != nil {
		return task.Status, fmt.Errorf("fail task %d: %w", task.ID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return task.Status, fmt.Errorf("fail task %d: %w", task.ID, ErrNotProcessing)
	}
	if next == StatusFailed {
		if err := markTargetFailed(ctx, q, at, task, message); err != nil {
			return next, err
		}
	}
	return next, nil
}

func markTargetFailed(ctx context.Context, q querier, at time.Time, task *Task, message string) error {
	now := formatTime(at)
	if _, err := q.ExecContext(ctx,
		`UPDATE orders SET needs_attention = 1, updated_at = ? WHERE id = ?`, now, task.OrderID,
	); err != nil {
		return fmt.Errorf("flag order %d: %w", task.OrderID, err)
	}
	var err error
	switch task.Type.TargetKind() {
	case "video_file":
		_, err = q.ExecContext(ctx,
			`UPDATE video_files SET processing_status = ?, updated_at = ? WHERE id = ?`, FileFailed, now, task.TargetID)
	case "segment":
		_, err = q.ExecContext(ctx,
			`UPDATE segments SET status = ?, updated_at = ? WHERE id = ?`, SegmentFailed, now, task.TargetID)
	case "order":
		msg := strings.TrimSpace(message)
		if msg == "" {
			msg = "report generation failed"
		}
		err = failOrder(ctx, q, at, task.OrderID, msg)
	}
	if err != nil {
		return fmt.Errorf("mark %s %d failed: %w", task.Type.TargetKind(), task.TargetID, err)
	}
	return nil
}

// PromoteRetries moves retry tasks whose delay has passed back to pending.
func (s *Store) PromoteRetries(ctx context.Context) (int64, error) {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_tasks SET status = ?, updated_at = ? WHERE status = ? AND available_at <= ?`,
		StatusPending, now, StatusRetry, now,
	)
	if err != nil {
		return 0, fmt.Errorf("promote retries: %w", err)
	}
	return res.RowsAffected()
}

// NextRetryAt returns the earliest available_at among retry tasks, or the
// zero time when none are waiting.
func (s *Store) NextRetryAt(ctx context.Context) (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT MIN(available_at) FROM processing_tasks WHERE status = ?`, StatusRetry).Scan(&raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("next retry: %w", err)
	}
	return parseTime(raw), nil
}

// TouchHeartbeat refreshes heartbeat_at for the processing tasks held by
// the given claims.
func (s *Store) TouchHeartbeat(ctx context.Context, claims ...string) error {
	if len(claims) == 0 {
		return nil
	}
	now := formatTime(s.now())
	placeholders := make([]string, len(claims))
	args := make([]any, 0, len(claims)+3)
	args = append(args, now, now)
	for i, claim := range claims {
		placeholders[i] = "?"
		args = append(args, claim)
	}
	args = append(args, StatusProcessing)
	query := `UPDATE processing_tasks SET heartbeat_at = ?, updated_at = ? WHERE claim_id IN (` +
		strings.Join(placeholders, ",") + `) AND status = ?`
	if err := s.execWithoutResultRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale fails processing tasks whose last heartbeat is older than
// cutoff, as transient failures. It returns the reclaimed tasks with their
// new status.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	var reclaimed []*Task
	err := s.WithTx(ctx, func(tx *Tx) error {
		reclaimed = reclaimed[:0]
		rows, err := tx.tx.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM processing_tasks
			 WHERE status = ? AND COALESCE(heartbeat_at, started_at, updated_at) < ?
			 ORDER BY id`,
			StatusProcessing, formatTime(cutoff),
		)
		if err != nil {
			return fmt.Errorf("query stale tasks: %w", err)
		}
		var stale []*Task
		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan stale task: %w", err)
			}
			stale = append(stale, task)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		for _, task := range stale {
			msg := "reclaimed: no heartbeat since " + formatTime(lastBeat(task))
			status, err := s.failTask(ctx, tx.tx, tx.now, task, msg, true)
			if err != nil {
				return err
			}
			task.Status = status
			task.ErrorMessage = msg
			reclaimed = append(reclaimed, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

func lastBeat(task *Task) time.Time {
	switch {
	case task.HeartbeatAt != nil:
		return *task.HeartbeatAt
	case task.StartedAt != nil:
		return *task.StartedAt
	default:
		return task.UpdatedAt
	}
}

// CancelOrder moves every pending, retry and processing task of the order
// to cancelled and fails the order with reason. It returns the cancelled
// tasks as they were before cancellation.
func (s *Store) CancelOrder(ctx context.Context, orderID int64, reason string) ([]*Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "analysis stopped"
	}
	var cancelled []*Task
	err := s.WithTx(ctx, func(tx *Tx) error {
		cancelled = cancelled[:0]
		if _, err := getOrder(ctx, tx.tx, orderID); err != nil {
			return err
		}
		rows, err := tx.tx.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM processing_tasks WHERE order_id = ? AND status IN (?, ?, ?) ORDER BY id`,
			orderID, StatusPending, StatusRetry, StatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("query active tasks: %w", err)
		}
		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan active task: %w", err)
			}
			cancelled = append(cancelled, task)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		now := formatTime(tx.now)
		if _, err := tx.tx.ExecContext(ctx,
			`UPDATE processing_tasks
			 SET status = ?, error_message = ?, heartbeat_at = NULL, completed_at = ?, updated_at = ?
			 WHERE order_id = ? AND status IN (?, ?, ?)`,
			StatusCancelled, reason, now, now,
			orderID, StatusPending, StatusRetry, StatusProcessing,
		); err != nil {
			return fmt.Errorf("cancel tasks of order %d: %w", orderID, err)
		}
		if _, err := tx.tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status <> ?`,
			OrderFailed, reason, now, orderID, OrderCompleted,
		); err != nil {
			return fmt.Errorf("fail order %d: %w", orderID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// RequeueOrder resets the order's failed and cancelled tasks to pending with
// a fresh retry budget, restores failed files and segments to the status
// their completed work implies, and returns the order to processing. It
// returns the requeued task IDs.
func (s *Store) RequeueOrder(ctx context.Context, orderID int64) ([]int64, error) {
	var ids []int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		ids, err = tx.RequeueOrder(ctx, orderID)
		return err
	})
	return ids, err
}

// RequeueOrder is the transactional form of Store.RequeueOrder.
func (t *Tx) RequeueOrder(ctx context.Context, orderID int64) ([]int64, error) {
	order, err := getOrder(ctx, t.tx, orderID)
	if err != nil {
		return nil, err
	}
	now := formatTime(t.now)
	rows, err := t.tx.QueryContext(ctx,
		`UPDATE processing_tasks
		 SET status = ?, retry_count = 0, error_message = NULL, available_at = ?, heartbeat_at = NULL,
		     started_at = NULL, completed_at = NULL, updated_at = ?
		 WHERE order_id = ? AND status IN (?, ?)
		 RETURNING id`,
		StatusPending, now, now, orderID, StatusFailed, StatusCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("requeue tasks of order %d: %w", orderID, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE video_files SET processing_status = CASE
		     WHEN EXISTS (SELECT 1 FROM processing_tasks t WHERE t.target_id = video_files.id AND t.task_type = ? AND t.status = ?) THEN ?
		     WHEN EXISTS (SELECT 1 FROM processing_tasks t WHERE t.target_id = video_files.id AND t.task_type = ? AND t.status = ?) THEN ?
		     WHEN EXISTS (SELECT 1 FROM processing_tasks t WHERE t.target_id = video_files.id AND t.task_type = ? AND t.status = ?) THEN ?
		     ELSE ? END,
		     updated_at = ?
		 WHERE order_id = ? AND processing_status = ?`,
		TaskSegment, StatusCompleted, FileSegmented,
		TaskTranscode, StatusCompleted, FileTranscoded,
		TaskDownload, StatusCompleted, FileDownloaded,
		FilePending,
		now, orderID, FileFailed,
	); err != nil {
		return nil, fmt.Errorf("restore video files of order %d: %w", orderID, err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE segments SET status = CASE WHEN transcript IS NOT NULL THEN ? ELSE ? END, updated_at = ?
		 WHERE order_id = ? AND status = ?`,
		SegmentTranscribed, SegmentPending, now, orderID, SegmentFailed,
	); err != nil {
		return nil, fmt.Errorf("restore segments of order %d: %w", orderID, err)
	}
	if order.Status != OrderCompleted {
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, needs_attention = 0, error_message = NULL, completed_at = NULL, updated_at = ? WHERE id = ?`,
			OrderProcessing, now, orderID,
		); err != nil {
			return nil, fmt.Errorf("resume order %d: %w", orderID, err)
		}
	}
	t.enqueued = append(t.enqueued, ids...)
	return ids, nil
}
