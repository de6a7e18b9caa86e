package recording_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/media/ffmpeg"
	"rivalcast/internal/notifications"
	"rivalcast/internal/queue"
	"rivalcast/internal/recording"
	"rivalcast/internal/testsupport"
)

type fakeCapturer struct {
	mu       sync.Mutex
	progress []ffmpeg.Progress
	block    bool
	touch    bool
	err      error
	calls    int
	outputs  []string
}

func (f *fakeCapturer) Capture(ctx context.Context, _ string, output string, _ int, progress func(ffmpeg.Progress)) error {
	f.mu.Lock()
	f.calls++
	f.outputs = append(f.outputs, output)
	steps := append([]ffmpeg.Progress(nil), f.progress...)
	block, touch, err := f.block, f.touch, f.err
	f.mu.Unlock()

	if touch {
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(output, []byte("ts"), 0o644); err != nil {
			return err
		}
	}
	for _, p := range steps {
		progress(p)
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(output, []byte("ts"), 0o644)
}

type stallNotifier struct {
	mu     sync.Mutex
	events int
}

func (n *stallNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	if event == notifications.EventRecordingStalled {
		n.mu.Lock()
		n.events++
		n.mu.Unlock()
	}
	return nil
}

func liveOrder(t *testing.T, store *queue.Store, expected float64) *queue.VideoFile {
	t.Helper()
	_, files, err := store.CreateOrder(context.Background(), 0, []queue.NewFile{
		{Role: queue.RoleSelf, SourceURL: "rtmp://live.example/self", ExpectedDuration: expected},
	})
	require.NoError(t, err)
	return files[0]
}

func newSupervisor(t *testing.T, cfg *config.Config, store *queue.Store, capturer recording.Capturer, notifier notifications.Service) (*recording.Supervisor, *recording.Tracker) {
	t.Helper()
	tracker := recording.NewTracker(cfg, store, logging.NewNop())
	return recording.NewSupervisor(cfg, store, tracker, capturer, notifier, logging.NewNop()), tracker
}

func waitIdle(t *testing.T, s *recording.Supervisor) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Active() == 0 }, 10*time.Second, 10*time.Millisecond)
}

func TestSupervisorStopsWhenStreamEnds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Recording.DefaultExpectedSeconds = 0
	store := testsupport.MustOpenStore(t, cfg)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent(), goleak.IgnoreTopFunction("database/sql.(*DB).connectionCleaner"))

	file := liveOrder(t, store, 0)
	capturer := &fakeCapturer{progress: []ffmpeg.Progress{
		{OutTime: 5 * time.Second, TotalSize: 1000, Speed: "1x"},
		{OutTime: 10 * time.Second, TotalSize: 2000, Speed: "1x", Done: true},
	}}
	supervisor, tracker := newSupervisor(t, cfg, store, capturer, nil)

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, file.ID))
	require.NoError(t, supervisor.Sync(ctx))
	waitIdle(t, supervisor)

	got, err := store.GetVideoFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.RecordingCompleted, got.RecordingStatus)
	assert.Equal(t, 10.0, got.RecordingProgress)
	assert.Equal(t, int64(2000), got.ByteSize)
	assert.Equal(t, capturer.outputs[0], got.CapturePath)

	tasks, err := store.TasksForOrder(ctx, file.OrderID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.TaskDownload, tasks[0].Type)
}

func TestSupervisorCancelsCaptureWhenRecordingStops(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent(), goleak.IgnoreTopFunction("database/sql.(*DB).connectionCleaner"))

	file := liveOrder(t, store, 600)
	capturer := &fakeCapturer{block: true, progress: []ffmpeg.Progress{{OutTime: 3 * time.Second}}}
	supervisor, tracker := newSupervisor(t, cfg, store, capturer, nil)

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, file.ID))
	require.NoError(t, supervisor.Sync(ctx))
	require.Eventually(t, func() bool { return supervisor.Active() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		capturer.mu.Lock()
		defer capturer.mu.Unlock()
		return capturer.calls == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, supervisor.Sync(ctx), "second sync must not start a duplicate capture")

	status, err := tracker.Stop(ctx, file.ID, recording.StopOperator)
	require.NoError(t, err)
	assert.Equal(t, queue.RecordingStopped, status)

	require.NoError(t, supervisor.Sync(ctx))
	waitIdle(t, supervisor)

	got, err := store.GetVideoFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.RecordingStopped, got.RecordingStatus, "cancelled capture must not fail the file")
	capturer.mu.Lock()
	assert.Equal(t, 1, capturer.calls)
	capturer.mu.Unlock()
}

func TestSupervisorResumesCaptureAfterRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	file := liveOrder(t, store, 600)
	before := &fakeCapturer{block: true, touch: true, progress: []ffmpeg.Progress{{OutTime: 120 * time.Second, TotalSize: 5000}}}
	supervisor, tracker := newSupervisor(t, cfg, store, before, nil)
	require.NoError(t, tracker.Start(ctx, file.ID))

	runCtx, shutdown := context.WithCancel(ctx)
	require.NoError(t, supervisor.Sync(runCtx))
	require.Eventually(t, func() bool {
		got, err := store.GetVideoFile(ctx, file.ID)
		return err == nil && got.RecordingProgress == 120
	}, 5*time.Second, 10*time.Millisecond)
	shutdown()
	waitIdle(t, supervisor)

	after := &fakeCapturer{block: true, touch: true, progress: []ffmpeg.Progress{
		{OutTime: 5 * time.Second, TotalSize: 100},
		{OutTime: 60 * time.Second, TotalSize: 1000},
	}}
	restarted, restartedTracker := newSupervisor(t, cfg, store, after, nil)
	require.NoError(t, restarted.Sync(ctx))
	require.Eventually(t, func() bool {
		got, err := store.GetVideoFile(ctx, file.ID)
		return err == nil && got.RecordingProgress == 180
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.GetVideoFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.RecordingActive, got.RecordingStatus)
	assert.Equal(t, int64(6000), got.ByteSize)
	assert.Equal(t, before.outputs[0], got.CapturePath, "first part stays the capture path")
	after.mu.Lock()
	require.Len(t, after.outputs, 1)
	assert.Equal(t, "capture.001.ts", filepath.Base(after.outputs[0]))
	after.mu.Unlock()
	assert.Equal(t, []string{before.outputs[0], after.outputs[0]}, recording.CaptureParts(got.CapturePath))

	_, err = restartedTracker.Stop(ctx, file.ID, recording.StopOperator)
	require.NoError(t, err)
	require.NoError(t, restarted.Sync(ctx))
	waitIdle(t, restarted)
}

func TestSupervisorFailsResumedCaptureWithoutMedia(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	file := liveOrder(t, store, 600)
	capturer := &fakeCapturer{block: true}
	supervisor, tracker := newSupervisor(t, cfg, store, capturer, nil)
	require.NoError(t, tracker.Start(ctx, file.ID))
	require.NoError(t, tracker.Heartbeat(ctx, recording.Event{VideoFileID: file.ID, ElapsedSeconds: 30, BytesWritten: 2048}))
	require.NoError(t, store.SetCapturePath(ctx, file.ID, filepath.Join(cfg.VideoFileWorkDir(file.OrderID, file.ID), "capture.ts")))

	require.NoError(t, supervisor.Sync(ctx))
	waitIdle(t, supervisor)

	got, err := store.GetVideoFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.RecordingFailed, got.RecordingStatus)
	assert.Contains(t, got.RecordingMessage, "media is missing")
	capturer.mu.Lock()
	assert.Zero(t, capturer.calls)
	capturer.mu.Unlock()
}

func TestSupervisorFailsRecordingOnCaptureError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	file := liveOrder(t, store, 0)
	supervisor, tracker := newSupervisor(t, cfg, store, &fakeCapturer{err: errors.New("connection refused")}, nil)

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, file.ID))
	require.NoError(t, supervisor.Sync(ctx))
	waitIdle(t, supervisor)

	got, err := store.GetVideoFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.RecordingFailed, got.RecordingStatus)
	assert.Contains(t, got.RecordingMessage, "connection refused")
}

func TestSupervisorNotifiesStalledOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Recording.StaleWindow = 30
	store := testsupport.MustOpenStore(t, cfg)

	_, files := testsupport.SeedOrder(t, store, 0)
	clock := testsupport.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tracker := recording.NewTracker(cfg, store, logging.NewNop(), recording.WithClock(clock.Now))
	notifier := &stallNotifier{}
	supervisor := recording.NewSupervisor(cfg, store, tracker, &fakeCapturer{}, notifier, logging.NewNop())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, files[0].ID))
	clock.Advance(time.Minute)

	require.NoError(t, supervisor.Sync(ctx))
	require.NoError(t, supervisor.Sync(ctx))
	assert.Equal(t, 0, supervisor.Active(), "files without a source are captured externally")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, 1, notifier.events)
}
