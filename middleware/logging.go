package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/lro/op"
)

// Logging returns middleware that logs execution start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, o *op.Operation, next Handler) ([]byte, error) {
		logger.Info("operation execution started",
			slog.String("op_type", o.Type),
			slog.String("op_id", o.ID.String()),
			slog.Int("attempt", o.RetryCount),
		)

		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("operation execution failed",
				slog.String("op_type", o.Type),
				slog.String("op_id", o.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("operation execution completed",
				slog.String("op_type", o.Type),
				slog.String("op_id", o.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.Int("output_bytes", len(out)),
			)
		}

		return out, err
	}
}
