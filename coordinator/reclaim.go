package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/lro/op"
)

// Reclaim handles a running operation whose lease went stale: the owning
// worker stopped heartbeating (crash, partition) and another worker may
// retry the work. Reclamation counts against the retry budget; an
// exhausted budget turns a stale lease into a terminal failure, which is
// what bounds "stuck" operations without external intervention.
func (e *Executor) Reclaim(ctx context.Context, o *op.Operation) error {
	now := time.Now().UTC()

	if o.RetriesExhausted() {
		ttl := e.retentionFor(o, op.StateFailed, nil)
		failure := op.Failure{
			Kind:      "lease_expired",
			Message:   "worker lease expired and retry budget is exhausted",
			Retryable: false,
		}
		updated, casErr := e.store.CompareAndSwapOp(ctx, o.ID, op.StateRunning, func(c *op.Operation) error {
			return c.Fail(c.OwnerToken, failure, now, ttl)
		})
		if casErr != nil {
			return e.discardIfSuperseded(o, "lease reclaim", casErr)
		}
		e.hooks.EmitOpFailed(ctx, updated, failure)
		return nil
	}

	updated, casErr := e.store.CompareAndSwapOp(ctx, o.ID, op.StateRunning, func(c *op.Operation) error {
		return c.Requeue(c.OwnerToken, 0, now)
	})
	if casErr != nil {
		return e.discardIfSuperseded(o, "lease reclaim", casErr)
	}

	e.hooks.EmitOpReclaimed(ctx, updated)

	e.logger.Info("reclaimed stale operation",
		slog.String("op_id", o.ID.String()),
		slog.String("op_type", o.Type),
		slog.Int("retry_count", updated.RetryCount),
	)
	return nil
}
