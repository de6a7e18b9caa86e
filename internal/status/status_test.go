package status_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/recording"
	"rivalcast/internal/status"
	"rivalcast/internal/testsupport"
)

type fixture struct {
	store *queue.Store
	clock *testsupport.Clock
	agg   *status.Aggregator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Recording.StaleWindow = 30
	clock := testsupport.NewClock(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC))
	store := testsupport.MustOpenStoreWithClock(t, cfg, clock)
	return fixture{store: store, clock: clock, agg: status.New(cfg, store, status.WithClock(clock.Now))}
}

func (f fixture) claim(t *testing.T) *queue.Task {
	t.Helper()
	task, err := f.store.ClaimNext(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, task)
	f.clock.Advance(time.Second)
	return task
}

func TestOrderProgressCountsAndCurrentTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, files := testsupport.SeedOrder(t, f.store, 1)

	t1 := testsupport.MustEnqueue(t, f.store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskDownload})
	t2 := testsupport.MustEnqueue(t, f.store, queue.NewTask{OrderID: order.ID, TargetID: files[1].ID, Type: queue.TaskDownload})
	t3 := testsupport.MustEnqueue(t, f.store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskTranscode})
	testsupport.MustEnqueue(t, f.store, queue.NewTask{OrderID: order.ID, TargetID: files[1].ID, Type: queue.TaskTranscode})

	require.Equal(t, t1, f.claim(t).ID)
	second := f.claim(t)
	require.Equal(t, t2, second.ID)

	progress, err := f.agg.OrderProgress(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, progress.CurrentTask)
	assert.Equal(t, t1, progress.CurrentTask.ID, "oldest started processing task")
	assert.Equal(t, "download", progress.CurrentTask.TaskType)
	assert.Equal(t, status.TaskStats{Total: 4, Pending: 2, Processing: 2}, progress.TaskStats)

	third := f.claim(t)
	require.Equal(t, t3, third.ID)
	require.NoError(t, f.store.WithTx(ctx, func(tx *queue.Tx) error { return tx.CompleteTask(ctx, third) }))
	_, err = f.store.FailTask(ctx, second, "source returned 404", false)
	require.NoError(t, err)

	progress, err = f.agg.OrderProgress(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, status.TaskStats{Total: 4, Pending: 1, Processing: 1, Completed: 1, Failed: 1}, progress.TaskStats)
	assert.Equal(t, 25.0, progress.Progress)
	assert.Equal(t, t1, progress.CurrentTask.ID)
	require.Len(t, progress.FailedTasks, 1)
	assert.Equal(t, t2, progress.FailedTasks[0].ID)
	assert.Equal(t, "source returned 404", progress.FailedTasks[0].ErrorMessage)
	assert.True(t, progress.NeedsAttention)
	assert.Len(t, progress.Tasks, 4)
}

func TestOrderProgressCountsRetryAsPendingAndCancelledAsFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, files := testsupport.SeedOrder(t, f.store, 1)

	retried := testsupport.MustEnqueue(t, f.store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskDownload})
	testsupport.MustEnqueue(t, f.store, queue.NewTask{OrderID: order.ID, TargetID: files[1].ID, Type: queue.TaskDownload})
	claimed := f.claim(t)
	require.Equal(t, retried, claimed.ID)
	st, err := f.store.FailTask(ctx, claimed, "timeout", true)
	require.NoError(t, err)
	require.Equal(t, queue.StatusRetry, st)

	progress, err := f.agg.OrderProgress(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, status.TaskStats{Total: 2, Pending: 2}, progress.TaskStats)
	assert.Nil(t, progress.CurrentTask)

	_, err = f.store.CancelOrder(ctx, order.ID, "operator stop")
	require.NoError(t, err)
	progress, err = f.agg.OrderProgress(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, status.TaskStats{Total: 2, Failed: 2}, progress.TaskStats)
	assert.Len(t, progress.FailedTasks, 2)
	assert.Equal(t, "failed", progress.OrderStatus)
}

func TestOrderProgressEmptyOrder(t *testing.T) {
	f := newFixture(t)
	order, _ := testsupport.SeedOrder(t, f.store, 0)

	progress, err := f.agg.OrderProgress(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Zero(t, progress.Progress)
	assert.Nil(t, progress.CurrentTask)
	assert.NotNil(t, progress.FailedTasks)
	assert.NotNil(t, progress.Tasks)

	_, err = f.agg.OrderProgress(context.Background(), order.ID+100)
	require.ErrorIs(t, err, queue.ErrOrderNotFound)
}

func TestRecordingProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, files := testsupport.SeedOrder(t, f.store, 2)
	tracker := recording.NewTracker(testsupport.NewConfig(t), f.store, logging.NewNop(), recording.WithClock(f.clock.Now))

	for _, file := range files[:2] {
		require.NoError(t, tracker.Start(ctx, file.ID))
	}
	f.clock.Advance(10 * time.Second)
	require.NoError(t, tracker.Heartbeat(ctx, recording.Event{VideoFileID: files[0].ID, ElapsedSeconds: 30, BytesWritten: 1 << 20, Message: "captured 30s"}))
	require.NoError(t, tracker.Heartbeat(ctx, recording.Event{VideoFileID: files[1].ID, ElapsedSeconds: 90, BytesWritten: 3 << 20}))
	f.clock.Advance(25 * time.Second)

	views, err := f.agg.RecordingProgress(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, views, 3)

	self := views[0]
	assert.Equal(t, queue.RoleSelf, self.Role)
	assert.Equal(t, "recording", self.RecordingStatus)
	assert.Equal(t, 50.0, self.Percent)
	assert.Equal(t, 30.0, self.DurationSeconds)
	assert.Equal(t, int64(1<<20), self.FileSizeBytes)
	assert.Equal(t, "captured 30s", self.LatestProgress.Message)
	assert.False(t, self.Stalled)

	assert.Equal(t, 100.0, views[1].Percent, "capped at 100")
	assert.Equal(t, "pending", views[2].RecordingStatus)
	assert.Zero(t, views[2].Percent)

	f.clock.Advance(10 * time.Second)
	views, err = f.agg.RecordingProgress(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, views[0].Stalled)
	assert.False(t, views[2].Stalled, "only recording files stall")
}

func TestRecordingProgressCompletedIsFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, files := testsupport.SeedOrder(t, f.store, 0)

	ok, err := f.store.StartRecording(ctx, files[0].ID, 0, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.store.ApplyRecordingEvent(ctx, queue.RecordingEvent{VideoFileID: files[0].ID, ElapsedSeconds: 12})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.store.FinishRecording(ctx, files[0].ID, queue.RecordingCompleted, "stream ended", f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	views, err := f.agg.RecordingProgress(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 100.0, views[0].Percent)
	assert.Equal(t, "stream ended", views[0].LatestProgress.Message)
}
