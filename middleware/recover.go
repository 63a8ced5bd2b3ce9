package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/lro/op"
)

// Recover returns middleware that recovers from panics in the work unit.
// Panics are converted to errors and logged with a stack trace; the
// classifier then decides whether the failure is terminal.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, o *op.Operation, next Handler) (out []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("work unit panicked",
					slog.String("op_type", o.Type),
					slog.String("op_id", o.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				out = nil
				retErr = fmt.Errorf("panic in operation type %s: %v", o.Type, r)
			}
		}()
		return next(ctx)
	}
}
