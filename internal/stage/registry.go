package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rivalcast/internal/queue"
)

// Registry maps every task type to exactly one handler.
type Registry struct {
	handlers map[queue.TaskType]Handler
}

// NewRegistry builds a registry and fails unless every task type has a
// handler and no unknown task types are present.
func NewRegistry(handlers map[queue.TaskType]Handler) (*Registry, error) {
	registry := &Registry{handlers: make(map[queue.TaskType]Handler, len(handlers))}
	var missing []string
	for _, tt := range queue.AllTaskTypes() {
		handler, ok := handlers[tt]
		if !ok || handler == nil {
			missing = append(missing, string(tt))
			continue
		}
		registry.handlers[tt] = handler
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("stage registry: no handler for %s", strings.Join(missing, ", "))
	}
	for tt := range handlers {
		if _, ok := queue.ParseTaskType(string(tt)); !ok {
			return nil, fmt.Errorf("stage registry: unknown task type %q", tt)
		}
	}
	return registry, nil
}

// ErrNoHandler is returned when a task type has no registered handler.
var ErrNoHandler = errors.New("stage: no handler for task type")

// Handler returns the handler for a task type.
func (r *Registry) Handler(tt queue.TaskType) (Handler, error) {
	if r == nil {
		return nil, ErrNoHandler
	}
	handler, ok := r.handlers[tt]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoHandler, tt)
	}
	return handler, nil
}

// HealthCheck runs every handler's health check in pipeline order.
func (r *Registry) HealthCheck(ctx context.Context) []Health {
	if r == nil {
		return nil
	}
	out := make([]Health, 0, len(r.handlers))
	for _, tt := range queue.AllTaskTypes() {
		out = append(out, r.handlers[tt].HealthCheck(ctx))
	}
	return out
}
