package unit

import "context"

// Definition is a typed work unit for one operation type. I is the input
// payload type, O the output; both must be JSON-serializable.
//
// The context passed to Handler is the cancellation hook: the engine
// cancels it when the operation is cancelled externally, when the lease
// is lost to another worker, or when the execution timeout elapses.
// Handlers must check ctx cooperatively — the engine never force-kills
// foreign code. Long handlers should also call [ReportProgress].
type Definition[I, O any] struct {
	// Type is the operation type this unit executes.
	Type string

	// Handler performs the business logic.
	Handler func(ctx context.Context, input I) (O, error)
}

// NewDefinition creates a typed work-unit definition.
func NewDefinition[I, O any](opType string, handler func(ctx context.Context, input I) (O, error)) *Definition[I, O] {
	return &Definition[I, O]{
		Type:    opType,
		Handler: handler,
	}
}
