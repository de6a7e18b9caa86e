// Package wake signals the dispatcher that new work may be claimable.
//
// Local coalesces signals inside one process. Redis additionally relays
// signals over a pub/sub channel so enqueues in one process wake the
// dispatchers of every other process sharing the task store.
package wake

import "context"

// Notifier delivers coalesced wake-ups.
type Notifier interface {
	// Notify requests a wake-up. It never blocks.
	Notify(ctx context.Context)
	// C receives one value per pending wake-up.
	C() <-chan struct{}
}

// Local is an in-process notifier. Signals raised while one is already
// pending collapse into it.
type Local struct {
	ch chan struct{}
}

// NewLocal returns a ready in-process notifier.
func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) Notify(context.Context) {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

func (l *Local) C() <-chan struct{} {
	return l.ch
}

// Nop never fires. Tests that drive the dispatcher purely by polling use it.
type Nop struct{}

func (Nop) Notify(context.Context) {}

func (Nop) C() <-chan struct{} { return nil }
