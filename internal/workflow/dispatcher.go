package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/notifications"
	"rivalcast/internal/queue"
	"rivalcast/internal/stage"
	"rivalcast/internal/wake"
)

const minPollInterval = 250 * time.Millisecond

// Dispatcher claims processing tasks and runs them on the stage registry.
type Dispatcher struct {
	cfg      *config.Config
	store    *queue.Store
	registry *stage.Registry
	logger   *slog.Logger
	notifier notifications.Service
	waker    wake.Notifier

	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	reconcileInterval time.Duration

	freed chan struct{}

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	tasks    sync.WaitGroup
	inflight map[string]*inflightTask
	lastErr  error
	lastTask *queue.Task
}

// inflightTask is one local execution, keyed by the claim that started it.
type inflightTask struct {
	task    *queue.Task
	started time.Time
	cancel  context.CancelFunc
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithNotifier overrides the notification service (used in tests).
func WithNotifier(notifier notifications.Service) Option {
	return func(d *Dispatcher) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// WithWaker makes the dispatcher listen to, and raise, wake signals on n.
func WithWaker(n wake.Notifier) Option {
	return func(d *Dispatcher) {
		if n != nil {
			d.waker = n
		}
	}
}

// New constructs a dispatcher. Intervals and the concurrency ceiling come
// from the dispatcher section of cfg.
func New(cfg *config.Config, store *queue.Store, registry *stage.Registry, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Dispatcher{
		cfg:               cfg,
		store:             store,
		registry:          registry,
		logger:            logging.NewComponentLogger(logger, "dispatcher"),
		notifier:          notifications.NewService(cfg),
		waker:             wake.NewLocal(),
		concurrency:       cfg.Dispatcher.Concurrency,
		pollInterval:      cfg.PollInterval(),
		heartbeatInterval: cfg.HeartbeatInterval(),
		heartbeatTimeout:  cfg.HeartbeatTimeout(),
		reconcileInterval: cfg.ReconcileInterval(),
		freed:             make(chan struct{}, 1),
		inflight:          make(map[string]*inflightTask),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.concurrency <= 0 {
		d.concurrency = 1
	}
	if d.pollInterval <= 0 {
		d.pollInterval = minPollInterval
	}
	return d
}

// Start launches the claim loop and the maintenance tickers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("dispatcher already running")
	}
	if d.registry == nil {
		return errors.New("dispatcher has no stage registry")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.loops.Add(3)
	go d.claimLoop(runCtx)
	go d.heartbeatLoop(runCtx)
	go d.reconcileLoop(runCtx)

	d.logger.Info("dispatcher started",
		logging.Int("concurrency", d.concurrency),
		logging.Duration("poll_interval", d.pollInterval),
		logging.String(logging.FieldEventType, "dispatcher_started"),
	)
	return nil
}

// Stop cancels every in-flight execution and waits for the loops and
// executors to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.loops.Wait()
	d.tasks.Wait()
	d.logger.Info("dispatcher stopped", logging.String(logging.FieldEventType, "dispatcher_stopped"))
}

// Run starts the dispatcher and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// Wake asks the claim loop to look for work now.
func (d *Dispatcher) Wake(ctx context.Context) {
	d.waker.Notify(ctx)
}

// CancelOrder cancels the contexts of the order's in-flight executions and
// returns how many were signalled. The tasks must already have been moved out
// of processing by the store.
func (d *Dispatcher) CancelOrder(orderID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, running := range d.inflight {
		if running.task.OrderID == orderID {
			running.cancel()
			count++
		}
	}
	if count > 0 {
		d.logger.Info("cancelled in-flight tasks",
			logging.Int64(logging.FieldOrderID, orderID),
			logging.Int("count", count),
			logging.String(logging.FieldEventType, "order_cancel_signalled"),
		)
	}
	return count
}

func (d *Dispatcher) inflightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

func (d *Dispatcher) inflightClaims() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	claims := make([]string, 0, len(d.inflight))
	for claim := range d.inflight {
		claims = append(claims, claim)
	}
	return claims
}

func (d *Dispatcher) cancelClaim(claim string) (*queue.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	running, ok := d.inflight[claim]
	if !ok {
		return nil, false
	}
	running.cancel()
	return running.task, true
}
