// Package sweeper reaps terminal operations whose retention window has
// passed. Reaping deletes the record, leaves a tombstone so status
// lookups answer "gone" instead of "not found", and frees the
// operation's idempotency key for reuse. Tombstones themselves are
// pruned after a fixed horizon.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/lro"
	"github.com/xraph/lro/ext"
	"github.com/xraph/lro/op"
	"github.com/xraph/lro/store"
)

// tombstoneHorizon is how long a reaped operation's tombstone survives
// before lookups degrade from "gone" to "not found".
const tombstoneHorizon = 30 * 24 * time.Hour

// Sweeper periodically removes expired terminal operations.
// Multiple sweepers may run against the same store; deletion races
// resolve to at most one winner per record.
type Sweeper struct {
	store  store.Store
	hooks  *ext.Registry
	cfg    lro.Config
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	stop    context.CancelFunc
	done    chan struct{}
}

// New creates a Sweeper.
func New(st store.Store, hooks *ext.Registry, cfg lro.Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  st,
		hooks:  hooks,
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true

	var loopCtx context.Context
	loopCtx, s.stop = context.WithCancel(context.WithoutCancel(ctx))
	s.done = make(chan struct{})

	go s.loop(loopCtx)
	s.logger.Info("sweeper started", slog.Duration("interval", s.cfg.SweepInterval))
	return nil
}

// Stop terminates the sweep loop and waits for an in-progress pass to
// finish, up to the context deadline.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: reap every expired terminal operation (in
// batches, draining until a short batch) and prune aged tombstones.
// Exported so tests and operators can force a pass without waiting for
// the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	var reaped int
	for {
		n, err := s.sweepBatch(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep pass failed", slog.String("error", err.Error()))
			}
			return
		}
		reaped += n
		if n < s.cfg.SweepBatchSize {
			break
		}
	}

	pruned, err := s.store.PruneTombstones(ctx, time.Now().UTC().Add(-tombstoneHorizon))
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("tombstone prune failed", slog.String("error", err.Error()))
	}

	if reaped > 0 || pruned > 0 {
		s.logger.Info("sweep pass complete",
			slog.Int("reaped", reaped),
			slog.Int64("tombstones_pruned", pruned),
		)
	}
}

func (s *Sweeper) sweepBatch(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	expired, err := s.store.ListExpiredOps(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	var reaped int
	for _, o := range expired {
		if err := s.reap(ctx, o); err != nil {
			s.logger.Warn("reaping operation failed",
				slog.String("op_id", o.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		reaped++
	}
	return reaped, nil
}

// reap removes one expired operation and releases its idempotency key.
// The key release runs after the delete: once the record is gone a
// resubmission with the same key must create a fresh operation.
func (s *Sweeper) reap(ctx context.Context, o *op.Operation) error {
	if err := s.store.DeleteOp(ctx, o.ID); err != nil {
		if errors.Is(err, lro.ErrOpNotFound) {
			// A concurrent sweeper won the race.
			return nil
		}
		return err
	}

	if o.IdempotencyKey != "" {
		if err := s.store.ReleaseKey(ctx, o.IdempotencyKey, o.ID); err != nil {
			s.logger.Warn("releasing idempotency key failed",
				slog.String("op_id", o.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.hooks.EmitOpExpired(ctx, o)
	return nil
}
