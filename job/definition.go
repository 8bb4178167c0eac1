package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type and R the result type (both JSON-serializable).
type Definition[T, R any] struct {
	// Type is the unique tag selecting this handler.
	Type string

	// Handler processes the decoded payload and returns a typed result.
	Handler func(ctx context.Context, payload T) (R, error)

	// Opts configures priority and retry ceiling defaults for this type.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T, R any](jobType string, handler func(ctx context.Context, payload T) (R, error), opts ...Option) *Definition[T, R] {
	def := &Definition[T, R]{
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
