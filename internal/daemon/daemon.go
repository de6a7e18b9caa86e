package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"rivalcast/internal/api"
	"rivalcast/internal/config"
	"rivalcast/internal/control"
	"rivalcast/internal/logging"
	"rivalcast/internal/notifications"
	"rivalcast/internal/preflight"
	"rivalcast/internal/queue"
	"rivalcast/internal/recording"
	"rivalcast/internal/stage"
	"rivalcast/internal/status"
	"rivalcast/internal/wake"
	"rivalcast/internal/workflow"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another rivalcastd instance is already running")

// Options overrides components, mainly for tests. Zero values select the
// production implementations.
type Options struct {
	Registry *stage.Registry
	Capturer recording.Capturer
	Notifier notifications.Service
}

// Daemon owns the background components of one rivalcastd process.
type Daemon struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger

	dispatcher *workflow.Dispatcher
	supervisor *recording.Supervisor
	controller *control.Controller
	server     *api.Server
	relay      *wake.Redis
	redis      *redis.Client

	lockPath string
	lock     *flock.Flock
	starting atomic.Bool
	running  atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	DatabasePath   string
	LockPath       string
	Dispatcher     workflow.StatusSummary
	ActiveCaptures int
}

// New wires every component. The Redis connection is opened here so a
// misconfigured bus fails startup instead of silently degrading to polling.
func New(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	var waker wake.Notifier = wake.NewLocal()
	if cfg.Redis.Enabled {
		client, err := wake.Dial(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		d.redis = client
		d.relay = wake.NewRedis(client, cfg.Redis.Channel, logger)
		waker = d.relay
	}

	registry := opts.Registry
	if registry == nil {
		var err error
		registry, err = BuildRegistry(ctx, cfg, store, logger)
		if err != nil {
			d.closeRedis()
			return nil, err
		}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	d.dispatcher = workflow.New(cfg, store, registry, logger,
		workflow.WithNotifier(notifier),
		workflow.WithWaker(waker),
	)
	tracker := recording.NewTracker(cfg, store, logger, recording.WithWaker(waker))
	d.supervisor = recording.NewSupervisor(cfg, store, tracker, opts.Capturer, notifier, logger)
	d.controller = control.New(cfg, store, tracker, logger,
		control.WithCanceller(d.dispatcher),
		control.WithWaker(waker),
	)
	router := api.NewRouter(api.Deps{
		Config:     cfg,
		Store:      store,
		Control:    d.controller,
		Status:     status.New(cfg, store),
		Dispatcher: d.dispatcher,
		Logger:     logger,
	})
	d.server = api.NewServer(cfg, router, logger)
	return d, nil
}

// Controller exposes the operator command layer bound to this daemon.
func (d *Daemon) Controller() *control.Controller {
	return d.controller
}

// Run acquires the lock when configured, then runs every component until ctx
// is cancelled or one of them fails.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.starting.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.starting.Store(false)

	if d.cfg.Dispatcher.ExclusiveLock {
		ok, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return ErrAlreadyRunning
		}
		defer func() {
			if err := d.lock.Unlock(); err != nil {
				d.logger.Warn("failed to release daemon lock", logging.Error(err))
			}
		}()
	}

	d.running.Store(true)
	defer d.running.Store(false)

	d.logPreflight(ctx)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return d.dispatcher.Run(gctx) })
	group.Go(func() error { return d.supervisor.Run(gctx) })
	group.Go(func() error { return d.server.Serve(gctx) })
	if d.relay != nil {
		group.Go(func() error { return d.relay.Run(gctx) })
	}

	d.logger.Info("rivalcast daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("exclusive_lock", d.cfg.Dispatcher.ExclusiveLock),
		logging.Bool("redis_wake", d.relay != nil),
		logging.Int("concurrency", d.cfg.Dispatcher.Concurrency),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.logger.Info("rivalcast daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return err
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		DatabasePath:   d.store.Path(),
		LockPath:       d.lockPath,
		Dispatcher:     d.dispatcher.Status(ctx),
		ActiveCaptures: d.supervisor.Active(),
	}
}

// Close releases the Redis connection. The store is owned by the caller.
func (d *Daemon) Close() error {
	return d.closeRedis()
}

func (d *Daemon) closeRedis() error {
	if d.redis == nil {
		return nil
	}
	err := d.redis.Close()
	d.redis = nil
	return err
}

func (d *Daemon) logPreflight(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg)
	for _, result := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run rivalcast health for details"),
			logging.String(logging.FieldImpact, "stages depending on this check will fail"),
		)
	}
}
