package queue

import (
	"context"
	"fmt"
	"strings"
)

// CreateOrder inserts an order and its video files.
func (s *Store) CreateOrder(ctx context.Context, priority int, files []NewFile) (*Order, []*VideoFile, error) {
	var (
		order   *Order
		created []*VideoFile
	)
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		order, created, err = tx.CreateOrder(ctx, priority, files)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return order, created, nil
}

// CreateOrder is the transactional form of Store.CreateOrder.
func (t *Tx) CreateOrder(ctx context.Context, priority int, files []NewFile) (*Order, []*VideoFile, error) {
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w: an order needs at least one video file", ErrInvalidTask)
	}
	now := formatTime(t.now)
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (status, needs_attention, priority, created_at, updated_at) VALUES (?, 0, ?, ?, ?)`,
		OrderPending, priority, now, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert order: %w", err)
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("order id: %w", err)
	}

	created := make([]*VideoFile, 0, len(files))
	for _, file := range files {
		role := strings.TrimSpace(file.Role)
		if role == "" {
			return nil, nil, fmt.Errorf("%w: video file role is required", ErrInvalidTask)
		}
		res, err := t.tx.ExecContext(ctx,
			`INSERT INTO video_files (order_id, role, source_url, processing_status, recording_status, expected_duration_seconds, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			orderID, role, nullableString(strings.TrimSpace(file.SourceURL)), FilePending, RecordingPending,
			max(file.ExpectedDuration, 0), now, now,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("insert video file %q: %w", role, err)
		}
		fileID, err := res.LastInsertId()
		if err != nil {
			return nil, nil, fmt.Errorf("video file id: %w", err)
		}
		vf, err := getVideoFile(ctx, t.tx, fileID)
		if err != nil {
			return nil, nil, err
		}
		created = append(created, vf)
	}
	order, err := getOrder(ctx, t.tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, created, nil
}

// GetOrder loads an order by ID.
func (s *Store) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ensureContext(ctx), s.db, id)
}

func getOrder(ctx context.Context, q querier, id int64) (*Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, ErrOrderNotFound, "order", id)
	}
	return order, nil
}

// ListOrders returns the most recent orders, newest first.
func (s *Store) ListOrders(ctx context.Context, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// GetVideoFile loads a video file by ID.
func (s *Store) GetVideoFile(ctx context.Context, id int64) (*VideoFile, error) {
	return getVideoFile(ensureContext(ctx), s.db, id)
}

func getVideoFile(ctx context.Context, q querier, id int64) (*VideoFile, error) {
	file, err := scanVideoFile(q.QueryRowContext(ctx, `SELECT `+videoFileColumns+` FROM video_files WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, ErrNotFound, "video file", id)
	}
	return file, nil
}

// VideoFilesForOrder lists an order's video files in intake order.
func (s *Store) VideoFilesForOrder(ctx context.Context, orderID int64) ([]*VideoFile, error) {
	return videoFilesForOrder(ensureContext(ctx), s.db, orderID)
}

// VideoFilesForOrder lists an order's video files inside the transaction.
func (t *Tx) VideoFilesForOrder(ctx context.Context, orderID int64) ([]*VideoFile, error) {
	return videoFilesForOrder(ctx, t.tx, orderID)
}

func videoFilesForOrder(ctx context.Context, q querier, orderID int64) ([]*VideoFile, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+videoFileColumns+` FROM video_files WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list video files: %w", err)
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

// GetSegment loads a segment by ID.
func (s *Store) GetSegment(ctx context.Context, id int64) (*Segment, error) {
	return getSegment(ensureContext(ctx), s.db, id)
}

func getSegment(ctx context.Context, q querier, id int64) (*Segment, error) {
	segment, err := scanSegment(q.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, ErrNotFound, "segment", id)
	}
	return segment, nil
}

// SegmentsForOrder lists an order's segments grouped by video file.
func (s *Store) SegmentsForOrder(ctx context.Context, orderID int64) ([]*Segment, error) {
	return s.querySegments(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE order_id = ? ORDER BY video_file_id, segment_index`, orderID)
}

// SegmentsForFile lists a video file's segments in index order.
func (s *Store) SegmentsForFile(ctx context.Context, videoFileID int64) ([]*Segment, error) {
	return s.querySegments(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE video_file_id = ? ORDER BY segment_index`, videoFileID)
}

func (s *Store) querySegments(ctx context.Context, query string, args ...any) ([]*Segment, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()
	var segments []*Segment
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, segment)
	}
	return segments, rows.Err()
}

// HasTask reports whether any task of the given type exists for target.
func (t *Tx) HasTask(ctx context.Context, targetID int64, taskType TaskType) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processing_tasks WHERE target_id = ? AND task_type = ?`,
		targetID, taskType,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check %s task for %d: %w", taskType, targetID, err)
	}
	return count > 0, nil
}

// SetOrderStatus moves an order to status without touching its tasks.
func (t *Tx) SetOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error {
	return t.execOne(ctx, "set order status",
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(t.now), orderID)
}
