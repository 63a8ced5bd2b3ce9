// Package coordinator implements the execution side of the engine: an
// Executor that runs claimed operations through middleware and the
// registered work unit, and a Pool of claim loops with heartbeat and
// lease-reaper goroutines.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/lro"
	"github.com/xraph/lro/backoff"
	"github.com/xraph/lro/classify"
	"github.com/xraph/lro/ext"
	"github.com/xraph/lro/middleware"
	"github.com/xraph/lro/op"
	"github.com/xraph/lro/retention"
	"github.com/xraph/lro/status"
	"github.com/xraph/lro/unit"
)

// Executor runs a single claimed operation through middleware and the
// registered work unit, classifies the outcome, and drives every state
// transition through owner-token-checked CAS.
type Executor struct {
	registry   *unit.Registry
	hooks      *ext.Registry
	store      op.Store
	classifier classify.Classifier
	backoff    backoff.Strategy
	policy     retention.Policy
	stats      *status.Stats
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *unit.Registry,
	hooks *ext.Registry,
	store op.Store,
	classifier classify.Classifier,
	bo backoff.Strategy,
	policy retention.Policy,
	stats *status.Stats,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		hooks:      hooks,
		store:      store,
		classifier: classifier,
		backoff:    bo,
		policy:     policy,
		stats:      stats,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a claimed operation to an outcome.
// On success: CAS running → completed, record output, feed duration stats.
// On transient failure with budget left: CAS running → queued with backoff.
// On permanent failure or exhausted budget: CAS running → failed.
// A CAS conflict on any of these means the operation was cancelled or
// reclaimed while executing; the result is discarded without complaint.
func (e *Executor) Execute(ctx context.Context, o *op.Operation, token string) error {
	handler, ok := e.registry.Get(o.Type)
	if !ok {
		// Another worker registered this type at submission time but we
		// don't know it. Terminal: retrying on a different worker is not
		// something the store can express.
		return e.fail(ctx, o, token, op.Failure{
			Kind:      "unregistered_type",
			Message:   fmt.Sprintf("no work unit registered for operation type %q", o.Type),
			Retryable: false,
		})
	}

	start := time.Now()

	terminal := func(ctx context.Context) ([]byte, error) {
		return handler(ctx, o.Input)
	}

	output, err := e.mw(ctx, o, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.handleFailure(ctx, o, token, err)
	}

	return e.handleSuccess(ctx, o, token, output, elapsed)
}

// handleSuccess commits the output through CAS and emits the lifecycle
// event.
func (e *Executor) handleSuccess(ctx context.Context, o *op.Operation, token string, output []byte, elapsed time.Duration) error {
	now := time.Now().UTC()
	ttl := e.retentionFor(o, op.StateCompleted, output)

	updated, casErr := e.store.CompareAndSwapOp(ctx, o.ID, op.StateRunning, func(c *op.Operation) error {
		return c.Complete(token, output, now, ttl)
	})
	if casErr != nil {
		return e.discardIfSuperseded(o, "completion", casErr)
	}

	e.stats.Observe(o.Type, elapsed)
	e.hooks.EmitOpCompleted(ctx, updated, elapsed)
	return nil
}

// handleFailure classifies the work-unit error and picks the
// retry-versus-terminal branch.
func (e *Executor) handleFailure(ctx context.Context, o *op.Operation, token string, unitErr error) error {
	if ctx.Err() != nil {
		// The execution context was torn down underneath the unit: pool
		// shutdown, or the heartbeat loop noticed a lost lease. Not a
		// failure of the work itself, so no outcome is committed; the
		// record stays running and lease reclamation decides its fate.
		e.logger.Info("execution interrupted, leaving lease for reclamation",
			slog.String("op_id", o.ID.String()),
			slog.String("op_type", o.Type),
			slog.String("reason", ctx.Err().Error()),
		)
		return nil
	}

	cls := e.classifier.Classify(unitErr)

	if cls.Retryable && !o.RetriesExhausted() {
		return e.requeue(ctx, o, token, unitErr)
	}

	failure := op.Failure{
		Kind:      cls.Kind,
		Message:   unitErr.Error(),
		Retryable: cls.Retryable,
	}
	if cls.Retryable {
		// Budget exhausted on a transient error: terminal, and the
		// stored flag must say "do not bother resubmitting as-is".
		failure.Retryable = false
		failure.Message = fmt.Sprintf("retry budget exhausted after %d attempts: %s", o.RetryCount, unitErr.Error())
	}

	return e.fail(ctx, o, token, failure)
}

// requeue returns the operation to the queue with a visibility delay.
func (e *Executor) requeue(ctx context.Context, o *op.Operation, token string, unitErr error) error {
	attempt := o.RetryCount + 1
	delay := e.backoff.Delay(attempt)
	now := time.Now().UTC()

	updated, casErr := e.store.CompareAndSwapOp(ctx, o.ID, op.StateRunning, func(c *op.Operation) error {
		return c.Requeue(token, delay, now)
	})
	if casErr != nil {
		return e.discardIfSuperseded(o, "retry", casErr)
	}

	e.hooks.EmitOpRetrying(ctx, updated, attempt, updated.VisibleAt)

	e.logger.Info("operation requeued for retry",
		slog.String("op_id", o.ID.String()),
		slog.String("op_type", o.Type),
		slog.Int("attempt", attempt),
		slog.Int("max_retries", o.MaxRetries),
		slog.Duration("delay", delay),
		slog.String("error", unitErr.Error()),
	)
	return nil
}

// fail commits a terminal failure through CAS.
func (e *Executor) fail(ctx context.Context, o *op.Operation, token string, failure op.Failure) error {
	now := time.Now().UTC()
	ttl := e.retentionFor(o, op.StateFailed, nil)

	updated, casErr := e.store.CompareAndSwapOp(ctx, o.ID, op.StateRunning, func(c *op.Operation) error {
		return c.Fail(token, failure, now, ttl)
	})
	if casErr != nil {
		return e.discardIfSuperseded(o, "failure", casErr)
	}

	e.hooks.EmitOpFailed(ctx, updated, failure)

	e.logger.Warn("operation failed terminally",
		slog.String("op_id", o.ID.String()),
		slog.String("op_type", o.Type),
		slog.String("kind", failure.Kind),
		slog.Int("retry_count", updated.RetryCount),
		slog.String("error", failure.Message),
	)
	return nil
}

// discardIfSuperseded resolves a lost CAS after execution: a conflict or
// ownership error means the operation was cancelled or reclaimed while
// the unit ran, so the result is discarded by design. Anything else is a
// store error worth surfacing.
func (e *Executor) discardIfSuperseded(o *op.Operation, action string, casErr error) error {
	if errors.Is(casErr, lro.ErrConflict) || errors.Is(casErr, lro.ErrNotOwner) ||
		errors.Is(casErr, lro.ErrOpNotFound) || errors.Is(casErr, lro.ErrOpGone) {
		e.logger.Info("discarding stale result",
			slog.String("op_id", o.ID.String()),
			slog.String("action", action),
			slog.String("reason", casErr.Error()),
		)
		return nil
	}
	e.logger.Error("store error committing outcome",
		slog.String("op_id", o.ID.String()),
		slog.String("action", action),
		slog.String("error", casErr.Error()),
	)
	return casErr
}

// retentionFor computes the retention window the terminal record will
// carry. The policy keys on outcome and result size, so a probe copy
// with the would-be terminal fields stands in for the committed record.
func (e *Executor) retentionFor(o *op.Operation, state op.State, output []byte) time.Duration {
	probe := *o
	probe.State = state
	probe.Output = output
	return e.policy.Retention(&probe)
}
