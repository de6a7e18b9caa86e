package llm

import (
	"context"
	"errors"
	"time"

	"rivalcast/internal/services"
)

// retryPolicy doubles the delay after each failed attempt up to ceiling.
type retryPolicy struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{attempts: 3, base: time.Second, ceiling: 10 * time.Second}
}

// next reports whether attempt may be followed by another and how long to wait.
func (p retryPolicy) next(attempt int, err error) (time.Duration, bool) {
	if attempt >= max(p.attempts, 1) {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, services.ErrValidation) {
		return 0, false
	}
	var status *statusError
	if errors.As(err, &status) {
		if !errors.Is(services.MarkerForStatus(status.code), services.ErrTransient) {
			return 0, false
		}
		if status.retryAfter > 0 {
			return min(status.retryAfter, p.ceiling), true
		}
	}
	return p.backoff(attempt), true
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	delay := p.base
	for range attempt - 1 {
		if delay >= p.ceiling {
			break
		}
		delay *= 2
	}
	return min(delay, p.ceiling)
}
