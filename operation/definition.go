package operation

import "context"

// Definition is a typed operation definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Category is the shared-resource class this handler serves.
	Category string

	// Handler is the function that processes the operation payload.
	Handler func(ctx context.Context, payload T) error

	// Opts configures priority, attempts, tenancy, and timeout.
	Opts Options
}

// NewDefinition creates a typed operation definition.
func NewDefinition[T any](category string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Category: category,
		Handler:  handler,
		Opts:     DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
