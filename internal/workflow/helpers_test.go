package workflow_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/notifications"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/stage"
	"rivalcast/internal/workflow"
)

var errStop = services.Wrap(services.ErrFatal, "test", "execute", "pipeline stops here", nil)

type stubStage struct {
	name    string
	execute func(ctx context.Context, task *queue.Task) (stage.Result, error)

	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newStubStage(name string, execute func(context.Context, *queue.Task) (stage.Result, error)) *stubStage {
	return &stubStage{name: name, execute: execute}
}

func (s *stubStage) Prepare(context.Context, *queue.Task) error { return nil }

func (s *stubStage) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	s.calls.Add(1)
	current := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if current <= seen || s.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	if s.execute == nil {
		return stage.Result{}, errStop
	}
	return s.execute(ctx, task)
}

func (s *stubStage) HealthCheck(context.Context) stage.Health { return stage.Healthy(s.name) }

type stageSet map[queue.TaskType]*stubStage

// newStages returns a stub for every task type; unspecified stages stop the
// pipeline with a fatal error.
func newStages(overrides stageSet) stageSet {
	set := stageSet{}
	for _, tt := range queue.AllTaskTypes() {
		if stub, ok := overrides[tt]; ok {
			set[tt] = stub
			continue
		}
		set[tt] = newStubStage(string(tt), nil)
	}
	return set
}

func (s stageSet) registry(t *testing.T) *stage.Registry {
	t.Helper()
	handlers := make(map[queue.TaskType]stage.Handler, len(s))
	for tt, stub := range s {
		handlers[tt] = stub
	}
	registry, err := stage.NewRegistry(handlers)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e == event {
			total++
		}
	}
	return total
}

func startDispatcher(t *testing.T, cfg *config.Config, store *queue.Store, stages stageSet, notifier notifications.Service) *workflow.Dispatcher {
	t.Helper()
	d := workflow.New(cfg, store, stages.registry(t), logging.NewNop(), workflow.WithNotifier(notifier))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d
}

func leakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionCleaner"),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func tasksOfType(t *testing.T, store *queue.Store, orderID int64, tt queue.TaskType) []*queue.Task {
	t.Helper()
	tasks, err := store.TasksForOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("TasksForOrder: %v", err)
	}
	var out []*queue.Task
	for _, task := range tasks {
		if task.Type == tt {
			out = append(out, task)
		}
	}
	return out
}

func allTerminal(tasks []*queue.Task) bool {
	for _, task := range tasks {
		switch task.Status {
		case queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled:
		default:
			return false
		}
	}
	return true
}

func cancelledErr(ctx context.Context) error {
	<-ctx.Done()
	return services.Wrap(services.ErrCancelled, "test", "execute", "", ctx.Err())
}
