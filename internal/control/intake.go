package control

import (
	"context"
	"fmt"
	"strings"

	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
)

// IntakeFile describes one participant recording of a new order.
type IntakeFile struct {
	Role             string  `json:"role"`
	SourceURL        string  `json:"source_url"`
	ExpectedDuration float64 `json:"expected_duration_seconds"`
	// Live files are captured through the recording tracker first; their
	// download is enqueued when the capture ends.
	Live bool `json:"live"`
}

// IntakeRequest creates an order.
type IntakeRequest struct {
	Priority int          `json:"priority"`
	Files    []IntakeFile `json:"files"`
}

// IntakeResult lists the rows created by an intake.
type IntakeResult struct {
	OrderID      int64   `json:"order_id"`
	VideoFileIDs []int64 `json:"video_file_ids"`
	TaskIDs      []int64 `json:"task_ids"`
}

// Intake creates an order with its video files and enqueues the download of
// every file that is not captured live, in one transaction.
func (c *Controller) Intake(ctx context.Context, req IntakeRequest) (IntakeResult, error) {
	files, err := normalizeFiles(req.Files)
	if err != nil {
		return IntakeResult{}, err
	}

	var result IntakeResult
	err = c.store.WithTx(ctx, func(tx *queue.Tx) error {
		result = IntakeResult{}
		order, created, err := tx.CreateOrder(ctx, req.Priority, toNewFiles(files))
		if err != nil {
			return err
		}
		result.OrderID = order.ID
		for i, file := range created {
			result.VideoFileIDs = append(result.VideoFileIDs, file.ID)
			if files[i].Live {
				continue
			}
			id, err := tx.Enqueue(ctx, queue.NewTask{
				OrderID:  order.ID,
				TargetID: file.ID,
				Type:     queue.TaskDownload,
				Priority: req.Priority,
			})
			if err != nil {
				return err
			}
			result.TaskIDs = append(result.TaskIDs, id)
		}
		return nil
	})
	if err != nil {
		return IntakeResult{}, err
	}

	ctx = services.WithOrderID(ctx, result.OrderID)
	logging.WithContext(ctx, c.logger).Info("order created",
		logging.Int("video_files", len(result.VideoFileIDs)),
		logging.Int("downloads", len(result.TaskIDs)),
		logging.Int("priority", req.Priority),
		logging.String(logging.FieldEventType, "order_created"),
	)
	if len(result.TaskIDs) > 0 {
		c.waker.Notify(ctx)
	}
	return result, nil
}

// normalizeFiles validates roles: exactly one self file, unique competitor
// roles, and bare "competitor" roles numbered in order of appearance.
func normalizeFiles(in []IntakeFile) ([]IntakeFile, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: an order needs at least one video file", queue.ErrInvalidTask)
	}
	out := make([]IntakeFile, len(in))
	seen := make(map[string]bool, len(in))
	next := 1
	selfCount := 0
	for i, file := range in {
		file.Role = strings.ToLower(strings.TrimSpace(file.Role))
		file.SourceURL = strings.TrimSpace(file.SourceURL)
		switch {
		case file.Role == queue.RoleSelf:
			selfCount++
		case file.Role == "competitor":
			for seen[queue.RoleCompetitor(next)] {
				next++
			}
			file.Role = queue.RoleCompetitor(next)
		case strings.HasPrefix(file.Role, "competitor#"):
			n, ok := queue.CompetitorIndex(file.Role)
			if !ok {
				return nil, fmt.Errorf("%w: invalid role %q", queue.ErrInvalidTask, file.Role)
			}
			file.Role = queue.RoleCompetitor(n)
		default:
			return nil, fmt.Errorf("%w: invalid role %q", queue.ErrInvalidTask, file.Role)
		}
		if seen[file.Role] {
			return nil, fmt.Errorf("%w: duplicate role %q", queue.ErrInvalidTask, file.Role)
		}
		seen[file.Role] = true
		if file.SourceURL == "" && !file.Live {
			return nil, fmt.Errorf("%w: %s needs a source_url unless it is captured live", queue.ErrInvalidTask, file.Role)
		}
		if file.ExpectedDuration < 0 {
			return nil, fmt.Errorf("%w: %s has a negative expected duration", queue.ErrInvalidTask, file.Role)
		}
		out[i] = file
	}
	if selfCount != 1 {
		return nil, fmt.Errorf("%w: an order needs exactly one self file, got %d", queue.ErrInvalidTask, selfCount)
	}
	return out, nil
}

func toNewFiles(files []IntakeFile) []queue.NewFile {
	out := make([]queue.NewFile, len(files))
	for i, file := range files {
		out[i] = queue.NewFile{Role: file.Role, SourceURL: file.SourceURL, ExpectedDuration: file.ExpectedDuration}
	}
	return out
}
