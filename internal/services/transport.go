package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TransportError tags an HTTP client failure with the marker matching its cause.
func TransportError(component, operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return Wrap(ErrCancelled, component, operation, "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(ErrTimeout, component, operation, "deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(ErrTimeout, component, operation, "network timeout", err)
	}
	return Wrap(ErrTransient, component, operation, "", err)
}

// RetryAfter parses a Retry-After header given as seconds or an HTTP date.
// Missing, malformed and past values yield zero.
func RetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return max(time.Duration(seconds)*time.Second, 0)
	}
	when, err := http.ParseTime(header)
	if err != nil {
		return 0
	}
	return max(when.Sub(now), 0)
}
