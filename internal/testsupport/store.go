package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"rivalcast/internal/config"
	"rivalcast/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenStoreWithClock opens a store whose timestamps come from clock.
func MustOpenStoreWithClock(t testing.TB, cfg *config.Config, clock *Clock) *queue.Store {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	base, maxDelay := cfg.RetryBackoff()
	store, err := queue.OpenPath(cfg.DatabasePath(), queue.Options{
		MaxRetries:      cfg.Dispatcher.MaxRetries,
		RetryBackoff:    base,
		RetryBackoffMax: maxDelay,
		Clock:           clock.Now,
	})
	if err != nil {
		t.Fatalf("queue.OpenPath: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedOrder creates an order with one self file and competitors competitor
// files, none of which have a source URL.
func SeedOrder(t testing.TB, store *queue.Store, competitors int) (*queue.Order, []*queue.VideoFile) {
	t.Helper()

	files := []queue.NewFile{{Role: queue.RoleSelf, ExpectedDuration: 60}}
	for i := 1; i <= competitors; i++ {
		files = append(files, queue.NewFile{Role: queue.RoleCompetitor(i), ExpectedDuration: 60})
	}
	order, created, err := store.CreateOrder(context.Background(), 0, files)
	if err != nil {
		t.Fatalf("store.CreateOrder: %v", err)
	}
	return order, created
}

// MustEnqueue enqueues a task and fails the test on error.
func MustEnqueue(t testing.TB, store *queue.Store, task queue.NewTask) int64 {
	t.Helper()

	id, err := store.Enqueue(context.Background(), task)
	if err != nil {
		t.Fatalf("store.Enqueue(%s): %v", task.Type, err)
	}
	return id
}

// Clock is a manually advanced clock for deterministic timestamps.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SetFilePaths records local and transcoded paths for a video file.
func SetFilePaths(t testing.TB, store *queue.Store, videoFileID int64, localPath, transcodedPath string) {
	t.Helper()

	err := store.WithTx(context.Background(), func(tx *queue.Tx) error {
		return tx.SetVideoFilePaths(context.Background(), videoFileID, localPath, transcodedPath)
	})
	if err != nil {
		t.Fatalf("SetVideoFilePaths: %v", err)
	}
}

// SeedSegments inserts count segments of 60 seconds for a video file and
// returns them in index order.
func SeedSegments(t testing.TB, store *queue.Store, file *queue.VideoFile, count int) []*queue.Segment {
	t.Helper()

	specs := make([]queue.SegmentSpec, 0, count)
	for i := range count {
		specs = append(specs, queue.SegmentSpec{
			Index:           i,
			StartSeconds:    float64(i * 60),
			DurationSeconds: 60,
			Path:            "chunk.wav",
		})
	}
	err := store.WithTx(context.Background(), func(tx *queue.Tx) error {
		_, err := tx.InsertSegments(context.Background(), file.OrderID, file.ID, specs)
		return err
	})
	if err != nil {
		t.Fatalf("InsertSegments: %v", err)
	}
	segments, err := store.SegmentsForFile(context.Background(), file.ID)
	if err != nil {
		t.Fatalf("SegmentsForFile: %v", err)
	}
	return segments
}
