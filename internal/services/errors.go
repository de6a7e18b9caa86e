package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrFatal         = errors.New("fatal failure")
	ErrCancelled     = errors.New("cancelled")
)

// Outcome is how the dispatcher treats a stage error.
type Outcome int

const (
	// OutcomeTransient failures are retried while attempts remain.
	OutcomeTransient Outcome = iota
	// OutcomeFatal failures fail the task regardless of remaining attempts.
	OutcomeFatal
	// OutcomeCancelled means the task was withdrawn while executing; nothing is recorded.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFatal:
		return "fatal"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "transient"
	}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps a stage error to the dispatcher outcome. Unmarked errors are
// treated as transient so unexpected failures get another attempt.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeTransient
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return OutcomeCancelled
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrFatal):
		return OutcomeFatal
	default:
		return OutcomeTransient
	}
}

// MarkerForStatus classifies an HTTP response status from an external service.
// Request timeouts and throttling are transient; other client errors are not.
func MarkerForStatus(code int) error {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return ErrTransient
	case code == http.StatusNotFound, code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrConfiguration
	case code >= 400 && code < 500:
		return ErrValidation
	default:
		return ErrTransient
	}
}

// Details returns a short operator hint for a classified error.
func Details(err error) (outcome Outcome, hint string) {
	outcome = Classify(err)
	switch {
	case errors.Is(err, ErrConfiguration):
		hint = "check configuration and credentials"
	case errors.Is(err, ErrValidation):
		hint = "input rejected; inspect the source media or request"
	case errors.Is(err, ErrNotFound):
		hint = "referenced source or record no longer exists"
	case errors.Is(err, ErrTimeout):
		hint = "external call timed out; will retry if attempts remain"
	case errors.Is(err, ErrExternalTool):
		hint = "external tool failed; see tool output"
	case outcome == OutcomeCancelled:
		hint = "stopped by operator"
	default:
		hint = "will retry if attempts remain"
	}
	return outcome, hint
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
