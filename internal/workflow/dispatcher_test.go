package workflow_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"rivalcast/internal/notifications"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/stage"
	"rivalcast/internal/testsupport"
)

func downloadOK(_ context.Context, task *queue.Task) (stage.Result, error) {
	return stage.Result{LocalPath: fmt.Sprintf("/work/%d/source.mp4", task.TargetID), ByteSize: 1024}, nil
}

func TestDownloadsFanOutToOneTranscodeEach(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(3))
	cfg.Dispatcher.PollInterval = 0
	store := testsupport.MustOpenStore(t, cfg)
	defer goleak.VerifyNone(t, leakOptions()...)

	order, files := testsupport.SeedOrder(t, store, 2)
	for _, file := range files {
		testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: file.ID, Type: queue.TaskDownload})
	}

	stages := newStages(stageSet{queue.TaskDownload: newStubStage("download", downloadOK)})
	d := startDispatcher(t, cfg, store, stages, nil)
	defer d.Stop()

	waitFor(t, "transcodes to finish", func() bool {
		transcodes := tasksOfType(t, store, order.ID, queue.TaskTranscode)
		return len(transcodes) == 3 && allTerminal(transcodes)
	})

	seen := map[int64]bool{}
	for _, task := range tasksOfType(t, store, order.ID, queue.TaskTranscode) {
		if seen[task.TargetID] {
			t.Fatalf("duplicate transcode for video file %d", task.TargetID)
		}
		seen[task.TargetID] = true
	}
	for _, file := range files {
		got, err := store.GetVideoFile(context.Background(), file.ID)
		if err != nil {
			t.Fatalf("GetVideoFile: %v", err)
		}
		if got.LocalPath == "" || got.ByteSize != 1024 {
			t.Fatalf("download result not recorded: %+v", got)
		}
	}
	if n := stages[queue.TaskTranscode].calls.Load(); n != 3 {
		t.Fatalf("expected 3 transcode executions, got %d", n)
	}
}

func TestSegmentFanOutProducesSingleReport(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(4))
	cfg.Dispatcher.PollInterval = 0
	store := testsupport.MustOpenStore(t, cfg)
	defer goleak.VerifyNone(t, leakOptions()...)

	order, files := testsupport.SeedOrder(t, store, 0)
	testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskDownload})

	notifier := &recordingNotifier{}
	stages := newStages(stageSet{
		queue.TaskDownload: newStubStage("download", downloadOK),
		queue.TaskTranscode: newStubStage("transcode", func(context.Context, *queue.Task) (stage.Result, error) {
			return stage.Result{TranscodedPath: "/work/transcoded.mp4"}, nil
		}),
		queue.TaskSegment: newStubStage("segment", func(context.Context, *queue.Task) (stage.Result, error) {
			specs := make([]queue.SegmentSpec, 4)
			for i := range specs {
				specs[i] = queue.SegmentSpec{Index: i, StartSeconds: float64(i * 60), DurationSeconds: 60, Path: fmt.Sprintf("chunk-%05d.wav", i)}
			}
			return stage.Result{Segments: specs}, nil
		}),
		queue.TaskASR: newStubStage("asr", func(_ context.Context, task *queue.Task) (stage.Result, error) {
			return stage.Result{Transcript: fmt.Sprintf("segment %d", task.TargetID)}, nil
		}),
		queue.TaskAnalysis: newStubStage("analysis", func(context.Context, *queue.Task) (stage.Result, error) {
			return stage.Result{Analysis: `{"score":1}`}, nil
		}),
		queue.TaskReport: newStubStage("report", func(context.Context, *queue.Task) (stage.Result, error) {
			return stage.Result{ReportPath: "/work/report.json", ReportURI: "file:///work/report.json"}, nil
		}),
	})
	d := startDispatcher(t, cfg, store, stages, notifier)
	defer d.Stop()

	waitFor(t, "order completion", func() bool {
		got, err := store.GetOrder(context.Background(), order.ID)
		return err == nil && got.Status == queue.OrderCompleted
	})

	if n := len(tasksOfType(t, store, order.ID, queue.TaskASR)); n != 4 {
		t.Fatalf("expected 4 asr tasks, got %d", n)
	}
	if n := len(tasksOfType(t, store, order.ID, queue.TaskAnalysis)); n != 4 {
		t.Fatalf("expected 4 analysis tasks, got %d", n)
	}
	if n := len(tasksOfType(t, store, order.ID, queue.TaskReport)); n != 1 {
		t.Fatalf("expected exactly 1 report task, got %d", n)
	}
	got, _ := store.GetOrder(context.Background(), order.ID)
	if got.ReportURI != "file:///work/report.json" {
		t.Fatalf("report location not recorded: %+v", got)
	}
	segments, err := store.SegmentsForOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("SegmentsForOrder: %v", err)
	}
	for _, segment := range segments {
		if segment.Status != queue.SegmentAnalyzed {
			t.Fatalf("segment %d not analyzed: %s", segment.ID, segment.Status)
		}
	}
	waitFor(t, "completion notification", func() bool {
		return notifier.count(notifications.EventOrderCompleted) == 1
	})
}

func TestConcurrencyCeilingIsNeverExceeded(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(2))
	cfg.Dispatcher.PollInterval = 0
	store := testsupport.MustOpenStore(t, cfg)

	order, files := testsupport.SeedOrder(t, store, 5)
	for _, file := range files {
		testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: file.ID, Type: queue.TaskDownload})
	}

	download := newStubStage("download", func(ctx context.Context, task *queue.Task) (stage.Result, error) {
		time.Sleep(30 * time.Millisecond)
		return downloadOK(ctx, task)
	})
	stages := newStages(stageSet{queue.TaskDownload: download})
	d := startDispatcher(t, cfg, store, stages, nil)
	defer d.Stop()

	waitFor(t, "downloads", func() bool {
		downloads := tasksOfType(t, store, order.ID, queue.TaskDownload)
		return allTerminal(downloads)
	})
	if peak := download.maxSeen.Load(); peak > 2 {
		t.Fatalf("ceiling exceeded: %d concurrent downloads", peak)
	}
	if n := download.calls.Load(); n != int32(len(files)) {
		t.Fatalf("expected %d downloads, got %d", len(files), n)
	}
}

func TestTransientFailuresExhaustRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(3))
	cfg.Dispatcher.PollInterval = 0
	cfg.Dispatcher.RetryBackoffSeconds = 0
	store := testsupport.MustOpenStore(t, cfg)

	order, files := testsupport.SeedOrder(t, store, 0)
	id := testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskDownload})

	download := newStubStage("download", func(context.Context, *queue.Task) (stage.Result, error) {
		return stage.Result{}, services.Wrap(services.ErrTransient, "download", "fetch", "upstream 503", nil)
	})
	d := startDispatcher(t, cfg, store, newStages(stageSet{queue.TaskDownload: download}), nil)
	defer d.Stop()

	waitFor(t, "download to fail", func() bool {
		task, err := store.GetTask(context.Background(), id)
		return err == nil && task.Status == queue.StatusFailed
	})
	task, _ := store.GetTask(context.Background(), id)
	if task.RetryCount != 3 {
		t.Fatalf("expected retry_count 3, got %d", task.RetryCount)
	}
	if n := download.calls.Load(); n != 4 {
		t.Fatalf("expected 4 attempts, got %d", n)
	}
	got, _ := store.GetOrder(context.Background(), order.ID)
	if !got.NeedsAttention {
		t.Fatal("expected order to need attention")
	}
}

func TestPanicIsRetriedAsTransient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Dispatcher.PollInterval = 0
	store := testsupport.MustOpenStore(t, cfg)

	order, files := testsupport.SeedOrder(t, store, 0)
	id := testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskDownload})

	var download *stubStage
	download = newStubStage("download", func(ctx context.Context, task *queue.Task) (stage.Result, error) {
		if download.calls.Load() == 1 {
			panic("boom")
		}
		return downloadOK(ctx, task)
	})
	d := startDispatcher(t, cfg, store, newStages(stageSet{queue.TaskDownload: download}), nil)
	defer d.Stop()

	waitFor(t, "download to complete", func() bool {
		task, err := store.GetTask(context.Background(), id)
		return err == nil && task.Status == queue.StatusCompleted
	})
	task, _ := store.GetTask(context.Background(), id)
	if task.RetryCount != 1 {
		t.Fatalf("expected one retry after panic, got %d", task.RetryCount)
	}
}

func TestCancelOrderStopsInflightAndPending(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(1))
	cfg.Dispatcher.PollInterval = 0
	store := testsupport.MustOpenStore(t, cfg)

	order, files := testsupport.SeedOrder(t, store, 2)
	for _, file := range files {
		testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: file.ID, Type: queue.TaskDownload})
	}

	started := make(chan struct{}, 1)
	download := newStubStage("download", func(ctx context.Context, _ *queue.Task) (stage.Result, error) {
		started <- struct{}{}
		return stage.Result{}, cancelledErr(ctx)
	})
	d := startDispatcher(t, cfg, store, newStages(stageSet{queue.TaskDownload: download}), nil)
	defer d.Stop()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("download never started")
	}

	cancelled, err := store.CancelOrder(context.Background(), order.ID, "analysis stopped")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if len(cancelled) != 3 {
		t.Fatalf("expected 3 cancelled tasks, got %d", len(cancelled))
	}
	if n := d.CancelOrder(order.ID); n != 1 {
		t.Fatalf("expected one in-flight execution signalled, got %d", n)
	}

	waitFor(t, "executor to exit", func() bool { return len(d.Status(context.Background()).Inflight) == 0 })
	d.Wake(context.Background())
	time.Sleep(300 * time.Millisecond)

	if n := download.calls.Load(); n != 1 {
		t.Fatalf("cancelled tasks were claimed again: %d executions", n)
	}
	for _, task := range tasksOfType(t, store, order.ID, queue.TaskDownload) {
		if task.Status != queue.StatusCancelled {
			t.Fatalf("task %d is %s, want cancelled", task.ID, task.Status)
		}
	}
}

func TestLateResultOfCancelledTaskIsDiscarded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Dispatcher.PollInterval = 0
	store := testsupport.MustOpenStore(t, cfg)

	order, files := testsupport.SeedOrder(t, store, 0)
	testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskDownload})

	started := make(chan struct{})
	release := make(chan struct{})
	download := newStubStage("download", func(ctx context.Context, task *queue.Task) (stage.Result, error) {
		close(started)
		<-release
		return downloadOK(ctx, task)
	})
	d := startDispatcher(t, cfg, store, newStages(stageSet{queue.TaskDownload: download}), nil)
	defer d.Stop()

	<-started
	if _, err := store.CancelOrder(context.Background(), order.ID, "operator stop"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	close(release)

	waitFor(t, "executor to exit", func() bool { return len(d.Status(context.Background()).Inflight) == 0 })
	if n := len(tasksOfType(t, store, order.ID, queue.TaskTranscode)); n != 0 {
		t.Fatalf("late result fanned out %d transcode tasks", n)
	}
	got, _ := store.GetVideoFile(context.Background(), files[0].ID)
	if got.LocalPath != "" {
		t.Fatalf("late result recorded local path %q", got.LocalPath)
	}
}

func TestReleasingStaleRunKeepsRequeuedRunAlive(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(2))
	cfg.Dispatcher.PollInterval = 0
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	order, files := testsupport.SeedOrder(t, store, 0)
	id := testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskDownload})

	var (
		runs            atomic.Int32
		secondCancelled atomic.Bool
	)
	firstStarted := make(chan struct{})
	secondStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	finishSecond := make(chan struct{})
	download := newStubStage("download", func(ctx context.Context, task *queue.Task) (stage.Result, error) {
		if runs.Add(1) == 1 {
			close(firstStarted)
			<-ctx.Done()
			<-releaseFirst
			return stage.Result{}, services.Wrap(services.ErrCancelled, "test", "execute", "", ctx.Err())
		}
		close(secondStarted)
		select {
		case <-ctx.Done():
			secondCancelled.Store(true)
			return stage.Result{}, cancelledErr(ctx)
		case <-finishSecond:
			return downloadOK(ctx, task)
		}
	})
	d := startDispatcher(t, cfg, store, newStages(stageSet{queue.TaskDownload: download}), nil)
	defer d.Stop()

	<-firstStarted
	if _, err := store.CancelOrder(ctx, order.ID, "operator stop"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if n := d.CancelOrder(order.ID); n != 1 {
		t.Fatalf("expected one in-flight execution signalled, got %d", n)
	}
	if _, err := store.RequeueOrder(ctx, order.ID); err != nil {
		t.Fatalf("RequeueOrder: %v", err)
	}
	d.Wake(ctx)

	select {
	case <-secondStarted:
	case <-time.After(10 * time.Second):
		t.Fatal("requeued download never started")
	}
	close(releaseFirst)
	waitFor(t, "stale run to exit", func() bool { return len(d.Status(ctx).Inflight) == 1 })
	time.Sleep(100 * time.Millisecond)
	if secondCancelled.Load() {
		t.Fatal("releasing the stale run cancelled the requeued run")
	}
	if inflight := d.Status(ctx).Inflight; len(inflight) != 1 || inflight[0].TaskID != id {
		t.Fatalf("requeued run missing from in-flight set: %+v", inflight)
	}

	close(finishSecond)
	waitFor(t, "requeued download to complete", func() bool {
		task, err := store.GetTask(ctx, id)
		return err == nil && task.Status == queue.StatusCompleted
	})
	if n := runs.Load(); n != 2 {
		t.Fatalf("expected 2 download executions, got %d", n)
	}
}

func TestReportFailureFailsOrderAndNotifies(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(0))
	cfg.Dispatcher.PollInterval = 0
	store := testsupport.MustOpenStore(t, cfg)

	order, files := testsupport.SeedOrder(t, store, 0)
	testsupport.SeedSegments(t, store, files[0], 1)
	testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: order.ID, Type: queue.TaskReport})

	notifier := &recordingNotifier{}
	d := startDispatcher(t, cfg, store, newStages(nil), notifier)
	defer d.Stop()

	waitFor(t, "order failure", func() bool {
		got, err := store.GetOrder(context.Background(), order.ID)
		return err == nil && got.Status == queue.OrderFailed
	})
	waitFor(t, "failure notification", func() bool {
		return notifier.count(notifications.EventOrderFailed) == 1
	})
}
