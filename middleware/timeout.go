package middleware

import (
	"context"
	"time"

	"github.com/xraph/lro/op"
)

// Timeout returns middleware that enforces a per-execution deadline.
// Zero disables the deadline. When it elapses the context is cancelled
// and the work unit should return context.DeadlineExceeded, which the
// default classifier treats as transient.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *op.Operation, next Handler) ([]byte, error) {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
