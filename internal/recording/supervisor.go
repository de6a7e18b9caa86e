package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/media/ffmpeg"
	"rivalcast/internal/metrics"
	"rivalcast/internal/notifications"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
)

const captureName = "capture.ts"

// Capturer pulls a live source into a local file, reporting progress until
// the source ends or ctx is cancelled.
type Capturer interface {
	Capture(ctx context.Context, source, output string, maxSeconds int, progress func(ffmpeg.Progress)) error
}

// Supervisor runs one capture per recording file that has a source URL and
// keeps the tracker in sync with the capture processes.
type Supervisor struct {
	cfg      *config.Config
	store    *queue.Store
	tracker  *Tracker
	capturer Capturer
	notifier notifications.Service
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	active   map[int64]context.CancelFunc
	notified map[int64]bool
	wg       sync.WaitGroup
}

// NewSupervisor wires a supervisor around tracker. A nil capturer uses the
// configured ffmpeg binary.
func NewSupervisor(cfg *config.Config, store *queue.Store, tracker *Tracker, capturer Capturer, notifier notifications.Service, logger *slog.Logger) *Supervisor {
	if capturer == nil {
		capturer = ffmpeg.New(cfg.FFmpegBinary())
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	interval := time.Duration(cfg.Recording.SupervisorInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Supervisor{
		cfg:      cfg,
		store:    store,
		tracker:  tracker,
		capturer: capturer,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "recording-supervisor"),
		interval: interval,
		active:   make(map[int64]context.CancelFunc),
		notified: make(map[int64]bool),
	}
}

// Run reconciles captures every interval until ctx is cancelled, then stops
// every capture it started and waits for them.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		if err := s.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("recording sync failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "recording_sync_failed"),
				logging.String(logging.FieldErrorHint, "check task database access"),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sync starts captures for recording files without one, cancels captures
// whose file left recording and raises stalled notifications.
func (s *Supervisor) Sync(ctx context.Context) error {
	files, err := s.store.VideoFilesByRecordingStatus(ctx, queue.RecordingActive)
	if err != nil {
		return err
	}
	recording := make(map[int64]bool, len(files))
	now := s.tracker.now()
	for _, file := range files {
		recording[file.ID] = true
		s.checkStalled(ctx, file, now)
		if strings.TrimSpace(file.SourceURL) == "" {
			continue
		}
		s.start(ctx, file)
	}

	s.mu.Lock()
	for id, cancel := range s.active {
		if !recording[id] {
			cancel()
		}
	}
	for id := range s.notified {
		if !recording[id] {
			delete(s.notified, id)
		}
	}
	s.mu.Unlock()
	return nil
}

// Active reports how many captures are running.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Supervisor) start(parent context.Context, file *queue.VideoFile) {
	s.mu.Lock()
	if _, running := s.active[file.ID]; running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.active[file.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()
	metrics.RecordingsActive.Inc()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, file.ID)
			s.mu.Unlock()
			cancel()
			metrics.RecordingsActive.Dec()
		}()
		s.capture(ctx, parent, file)
	}()
}

func (s *Supervisor) capture(ctx, parent context.Context, file *queue.VideoFile) {
	ctx = services.WithOrderID(ctx, file.OrderID)
	logger := logging.WithContext(ctx, s.logger).With(logging.Int64(logging.FieldVideoFileID, file.ID))

	target, err := resumeTarget(file, filepath.Join(s.cfg.VideoFileWorkDir(file.OrderID, file.ID), captureName))
	if err != nil {
		if failErr := s.tracker.Fail(context.WithoutCancel(ctx), file.ID, err.Error()); failErr != nil && !errors.Is(failErr, ErrInvalidState) {
			logger.Warn("capture failure not recorded", logging.Error(failErr), logging.String(logging.FieldEventType, "capture_fail_record_failed"))
		}
		return
	}
	if target.output == target.first {
		if err := s.store.SetCapturePath(ctx, file.ID, target.first); err != nil {
			logger.Warn("capture path not recorded",
				logging.Error(err),
				logging.String(logging.FieldEventType, "capture_path_failed"),
				logging.String(logging.FieldImpact, "capture skipped until next sync"),
			)
			return
		}
	}
	logger.Info("capture started",
		logging.String("capture_path", target.output),
		logging.Float64("resumed_at_seconds", target.elapsed),
		logging.String(logging.FieldEventType, "capture_started"),
	)

	err = s.capturer.Capture(ctx, file.SourceURL, target.output, s.cfg.Recording.MaxCaptureSeconds, func(p ffmpeg.Progress) {
		event := Event{
			VideoFileID:    file.ID,
			ElapsedSeconds: target.elapsed + p.OutTime.Seconds(),
			BytesWritten:   target.bytes + p.TotalSize,
			Message:        progressMessage(p),
		}
		if hbErr := s.tracker.Heartbeat(ctx, event); hbErr != nil && !errors.Is(hbErr, ErrStaleHeartbeat) {
			logger.Debug("capture heartbeat rejected", logging.Error(hbErr))
		}
	})

	// Captures cancelled because the file left recording or the daemon is
	// stopping leave the tracker state alone.
	if ctx.Err() != nil {
		logger.Info("capture stopped",
			logging.Bool("shutdown", parent.Err() != nil),
			logging.String(logging.FieldEventType, "capture_stopped"),
		)
		return
	}
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		if failErr := s.tracker.Fail(finishCtx, file.ID, err.Error()); failErr != nil && !errors.Is(failErr, ErrInvalidState) {
			logger.Warn("capture failure not recorded", logging.Error(failErr), logging.String(logging.FieldEventType, "capture_fail_record_failed"))
		}
		return
	}
	if _, stopErr := s.tracker.Stop(finishCtx, file.ID, StopStreamEnded); stopErr != nil && !errors.Is(stopErr, ErrInvalidState) {
		logger.Warn("capture end not recorded", logging.Error(stopErr), logging.String(logging.FieldEventType, "capture_stop_record_failed"))
	}
}

// captureTarget is where a capture writes and the progress it continues from.
type captureTarget struct {
	first   string
	output  string
	elapsed float64
	bytes   int64
}

// resumeTarget picks the output for a capture of file. A session that
// already captured media continues in a new part after the existing ones and
// offsets its progress by what was recorded; one whose media is gone cannot
// continue.
func resumeTarget(file *queue.VideoFile, first string) (captureTarget, error) {
	if strings.TrimSpace(file.CapturePath) != "" {
		first = file.CapturePath
	} else if file.RecordingProgress > 0 {
		return captureTarget{}, fmt.Errorf("recording progressed to %.0fs without a capture file; reset the recording to capture again", file.RecordingProgress)
	}
	target := captureTarget{first: first, output: first}
	if strings.TrimSpace(file.CapturePath) == "" {
		return target, nil
	}
	parts := CaptureParts(first)
	if len(parts) == 0 {
		if file.RecordingProgress > 0 {
			return captureTarget{}, fmt.Errorf("capture interrupted after %.0fs and its media is missing; reset the recording to capture again", file.RecordingProgress)
		}
		return target, nil
	}
	target.output = capturePart(first, len(parts))
	target.elapsed = file.RecordingProgress
	target.bytes = file.ByteSize
	return target, nil
}

// CaptureParts lists the existing files of a capture session in write
// order: first, then the parts appended when the capture was resumed.
func CaptureParts(first string) []string {
	if _, err := os.Stat(first); err != nil {
		return nil
	}
	parts := []string{first}
	for i := 1; ; i++ {
		part := capturePart(first, i)
		if _, err := os.Stat(part); err != nil {
			return parts
		}
		parts = append(parts, part)
	}
}

func capturePart(first string, index int) string {
	ext := filepath.Ext(first)
	return fmt.Sprintf("%s.%03d%s", strings.TrimSuffix(first, ext), index, ext)
}

func (s *Supervisor) checkStalled(ctx context.Context, file *queue.VideoFile, now time.Time) {
	stalled := Stalled(file, now, s.tracker.staleWindow)
	s.mu.Lock()
	already := s.notified[file.ID]
	s.notified[file.ID] = stalled
	s.mu.Unlock()
	if !stalled || already {
		return
	}
	since := file.RecordingStarted
	if file.RecordingBeat != nil {
		since = file.RecordingBeat
	}
	var sinceValue any = "start"
	if since != nil {
		sinceValue = *since
	}
	logging.WarnWithContext(s.logger, "recording stalled", "recording_stalled",
		logging.Int64(logging.FieldVideoFileID, file.ID),
		logging.Int64(logging.FieldOrderID, file.OrderID),
		logging.String(logging.FieldErrorHint, "check the capture source"),
		logging.String(logging.FieldImpact, "recording progress is not advancing"),
	)
	if err := s.notifier.Publish(ctx, notifications.EventRecordingStalled, notifications.Payload{
		"orderID":     file.OrderID,
		"videoFileID": file.ID,
		"role":        file.Role,
		"since":       sinceValue,
	}); err != nil {
		s.logger.Debug("stalled notification failed", logging.Error(err))
	}
}

func progressMessage(p ffmpeg.Progress) string {
	elapsed := p.OutTime.Round(time.Second)
	if p.Speed != "" {
		return fmt.Sprintf("captured %s at %s", elapsed, p.Speed)
	}
	return fmt.Sprintf("captured %s", elapsed)
}
