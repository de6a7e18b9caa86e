package control

import (
	"log/slog"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/recording"
	"rivalcast/internal/wake"
)

// Canceller interrupts in-flight executions of an order. The in-process
// dispatcher implements it; commands issued from another process rely on the
// dispatcher noticing the cancellation on its next heartbeat.
type Canceller interface {
	CancelOrder(orderID int64) int
}

// Controller executes operator commands against the task store.
type Controller struct {
	cfg       *config.Config
	store     *queue.Store
	tracker   *recording.Tracker
	canceller Canceller
	waker     wake.Notifier
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithCanceller signals in-flight executors when analysis stops.
func WithCanceller(c Canceller) Option {
	return func(ctl *Controller) {
		ctl.canceller = c
	}
}

// WithWaker wakes the dispatcher after commands that create claimable work.
func WithWaker(n wake.Notifier) Option {
	return func(ctl *Controller) {
		if n != nil {
			ctl.waker = n
		}
	}
}

// New returns a controller. tracker may be nil, in which case one is built
// from cfg.
func New(cfg *config.Config, store *queue.Store, tracker *recording.Tracker, logger *slog.Logger, opts ...Option) *Controller {
	ctl := &Controller{
		cfg:    cfg,
		store:  store,
		waker:  wake.Nop{},
		logger: logging.NewComponentLogger(logger, "control"),
	}
	for _, opt := range opts {
		opt(ctl)
	}
	if tracker == nil {
		tracker = recording.NewTracker(cfg, store, logger, recording.WithWaker(ctl.waker))
	}
	ctl.tracker = tracker
	return ctl
}

// Tracker exposes the recording tracker used by the controller.
func (c *Controller) Tracker() *recording.Tracker {
	return c.tracker
}
