// Package middleware provides composable middleware around work-unit
// execution. Middleware wraps the unit call synchronously and can modify
// execution (recover from panics, log, enforce deadlines, add tracing).
package middleware

import (
	"context"

	"github.com/xraph/lro/op"
)

// Handler is the terminal function that executes the work unit and
// returns the operation's output payload.
type Handler func(ctx context.Context) ([]byte, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the operation being executed, and the next handler to
// call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, o *op.Operation, next Handler) ([]byte, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → unit
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, o *op.Operation, next Handler) ([]byte, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) ([]byte, error) {
				return mw(ctx, o, prev)
			}
		}
		return h(ctx)
	}
}
