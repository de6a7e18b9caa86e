package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/metrics"
	"rivalcast/internal/queue"
	"rivalcast/internal/wake"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// file's current recording status.
	ErrInvalidState = errors.New("recording: invalid state")
	// ErrStaleHeartbeat is returned when a heartbeat reports less elapsed
	// time than already recorded. Progress is left unchanged.
	ErrStaleHeartbeat = errors.New("recording: stale heartbeat")
)

// StopReason records why a capture ended.
type StopReason string

const (
	// StopOperator is an explicit stop command.
	StopOperator StopReason = "operator"
	// StopStreamEnded means the capture source ended by itself.
	StopStreamEnded StopReason = "stream_ended"
)

// Event is one progress report of a running capture.
type Event struct {
	VideoFileID    int64
	Message        string
	ElapsedSeconds float64
	BytesWritten   int64
}

// Session is the tracker's view of one video file.
type Session struct {
	File    *queue.VideoFile
	Stalled bool
}

// Tracker enforces the recording state machine on top of the task store.
type Tracker struct {
	store           *queue.Store
	logger          *slog.Logger
	waker           wake.Notifier
	staleWindow     time.Duration
	defaultExpected float64
	now             func() time.Time
}

// TrackerOption configures optional Tracker behavior.
type TrackerOption func(*Tracker)

// WithClock overrides time.Now (used in tests).
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithWaker signals n when Stop enqueues the follow-up download.
func WithWaker(n wake.Notifier) TrackerOption {
	return func(t *Tracker) {
		if n != nil {
			t.waker = n
		}
	}
}

// NewTracker constructs a tracker using the recording section of cfg.
func NewTracker(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:           store,
		logger:          logging.NewComponentLogger(logger, "recording-tracker"),
		waker:           wake.Nop{},
		staleWindow:     cfg.RecordingStaleWindow(),
		defaultExpected: float64(cfg.Recording.DefaultExpectedSeconds),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start moves a pending file into recording.
func (t *Tracker) Start(ctx context.Context, videoFileID int64) error {
	file, err := t.store.GetVideoFile(ctx, videoFileID)
	if err != nil {
		return err
	}
	expected := file.ExpectedDuration
	if expected <= 0 {
		expected = t.defaultExpected
	}
	ok, err := t.store.StartRecording(ctx, videoFileID, expected, t.now())
	if err != nil {
		return err
	}
	if !ok {
		return t.stateError(ctx, videoFileID, "start")
	}
	logging.WithContext(ctx, t.logger).Info("recording started",
		logging.Int64(logging.FieldVideoFileID, videoFileID),
		logging.Float64("expected_seconds", expected),
		logging.String(logging.FieldEventType, "recording_started"),
	)
	return nil
}

// Heartbeat applies a progress event. Events for files that are not
// recording fail with ErrInvalidState; events that move elapsed time
// backwards fail with ErrStaleHeartbeat.
func (t *Tracker) Heartbeat(ctx context.Context, event Event) error {
	if event.ElapsedSeconds < 0 {
		return fmt.Errorf("%w: negative elapsed time", ErrStaleHeartbeat)
	}
	ok, err := t.store.ApplyRecordingEvent(ctx, queue.RecordingEvent{
		VideoFileID:    event.VideoFileID,
		Message:        strings.TrimSpace(event.Message),
		ElapsedSeconds: event.ElapsedSeconds,
		BytesWritten:   event.BytesWritten,
		At:             t.now(),
	})
	if err != nil {
		return err
	}
	metrics.ObserveHeartbeat(ok)
	if ok {
		return nil
	}
	file, err := t.store.GetVideoFile(ctx, event.VideoFileID)
	if err != nil {
		return err
	}
	if file.RecordingStatus != queue.RecordingActive {
		return fmt.Errorf("%w: heartbeat while %s", ErrInvalidState, file.RecordingStatus)
	}
	return fmt.Errorf("%w: elapsed %.1fs is behind recorded %.1fs", ErrStaleHeartbeat, event.ElapsedSeconds, file.RecordingProgress)
}

// Stop ends a recording. The file completes when it reached its expected
// duration, or when it had none and the stream ended by itself; otherwise it
// is stopped. A captured file is then handed to the pipeline by enqueueing
// its download.
func (t *Tracker) Stop(ctx context.Context, videoFileID int64, reason StopReason) (queue.RecordingStatus, error) {
	file, err := t.store.StopRecording(ctx, videoFileID, reason == StopStreamEnded, t.now())
	if err != nil {
		return "", err
	}
	if file == nil {
		current, err := t.store.GetVideoFile(ctx, videoFileID)
		if err != nil {
			return "", err
		}
		return current.RecordingStatus, fmt.Errorf("%w: stop while %s", ErrInvalidState, current.RecordingStatus)
	}
	logger := logging.WithContext(ctx, t.logger)
	logger.Info("recording ended",
		logging.Int64(logging.FieldVideoFileID, videoFileID),
		logging.String("recording_status", string(file.RecordingStatus)),
		logging.String("reason", string(reason)),
		logging.Float64("elapsed_seconds", file.RecordingProgress),
		logging.String(logging.FieldEventType, "recording_ended"),
	)
	if strings.TrimSpace(file.CapturePath) != "" {
		t.enqueueDownload(ctx, logger, file)
	}
	return file.RecordingStatus, nil
}

// Fail marks a recording failed.
func (t *Tracker) Fail(ctx context.Context, videoFileID int64, message string) error {
	ok, err := t.store.FinishRecording(ctx, videoFileID, queue.RecordingFailed, message, t.now())
	if err != nil {
		return err
	}
	if !ok {
		return t.stateError(ctx, videoFileID, "fail")
	}
	logging.ErrorWithContext(logging.WithContext(ctx, t.logger), "recording failed", "recording_failed",
		logging.Int64(logging.FieldVideoFileID, videoFileID),
		logging.String("error_message", message),
		logging.String(logging.FieldErrorHint, "reset the recording to capture again"),
	)
	return nil
}

// Reset returns a file that is not recording to pending so it can be
// captured again.
func (t *Tracker) Reset(ctx context.Context, videoFileID int64) error {
	ok, err := t.store.ResetRecording(ctx, videoFileID, t.now())
	if err != nil {
		return err
	}
	if !ok {
		return t.stateError(ctx, videoFileID, "reset")
	}
	return nil
}

// Snapshot returns every file of the order with its derived stalled flag.
func (t *Tracker) Snapshot(ctx context.Context, orderID int64) ([]Session, error) {
	files, err := t.store.VideoFilesForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	now := t.now()
	sessions := make([]Session, 0, len(files))
	for _, file := range files {
		sessions = append(sessions, Session{File: file, Stalled: Stalled(file, now, t.staleWindow)})
	}
	return sessions, nil
}

// Stalled reports whether a recording file has gone without a heartbeat for
// longer than window. Only the recording status can be stalled.
func Stalled(file *queue.VideoFile, now time.Time, window time.Duration) bool {
	if file == nil || file.RecordingStatus != queue.RecordingActive || window <= 0 {
		return false
	}
	last := file.RecordingBeat
	if last == nil {
		last = file.RecordingStarted
	}
	if last == nil {
		return false
	}
	return now.Sub(*last) > window
}

func (t *Tracker) enqueueDownload(ctx context.Context, logger *slog.Logger, file *queue.VideoFile) {
	var enqueued bool
	err := t.store.WithTx(ctx, func(tx *queue.Tx) error {
		enqueued = false
		exists, err := tx.HasTask(ctx, file.ID, queue.TaskDownload)
		if err != nil || exists {
			return err
		}
		order, err := tx.Order(ctx, file.OrderID)
		if err != nil {
			return err
		}
		if _, err := tx.Enqueue(ctx, queue.NewTask{
			OrderID:  file.OrderID,
			TargetID: file.ID,
			Type:     queue.TaskDownload,
			Priority: order.Priority,
		}); err != nil {
			return err
		}
		enqueued = true
		return nil
	})
	if err != nil {
		logging.WarnWithContext(logger, "capture not handed to the pipeline", "recording_download_enqueue_failed",
			logging.Int64(logging.FieldVideoFileID, file.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "enqueue a download task for the file manually"),
			logging.String(logging.FieldImpact, "captured media is not processed"),
		)
		return
	}
	if enqueued {
		t.waker.Notify(ctx)
	}
}

func (t *Tracker) stateError(ctx context.Context, videoFileID int64, op string) error {
	file, err := t.store.GetVideoFile(ctx, videoFileID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, file.RecordingStatus)
}
