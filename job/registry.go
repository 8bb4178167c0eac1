package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler processes a job payload and returns a result payload. Expected
// failures are reported through the error return — handlers must not use
// panics for control flow. Panics are reserved for genuine faults and are
// recovered by the worker pool.
type Handler interface {
	Execute(ctx context.Context, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// Registry maps job types to handlers. It is safe for concurrent use.
// Registration happens once at startup; lookup is a map read.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler and JSON-marshals the typed result back.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) {
	handler := HandlerFunc(func(ctx context.Context, payload []byte) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job type %q: %w", def.Type, err)
			}
		}

		result, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job type %q: %w", def.Type, err)
		}
		return data, nil
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = handler
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
