package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/lro"
	"github.com/xraph/lro/ext"
	"github.com/xraph/lro/id"
	"github.com/xraph/lro/op"
	"github.com/xraph/lro/throttle"
	"github.com/xraph/lro/unit"
)

// run tracks one in-flight operation on this pool: the lease token the
// claim was made with, the cancel func for its execution context, and the
// latest progress reported by the work unit. Progress is applied to the
// store on the next heartbeat, not synchronously, so a chatty unit costs
// nothing extra.
type run struct {
	op     *op.Operation
	token  string
	cancel context.CancelFunc

	// progress holds the latest reported percentage, -1 until the unit
	// reports for the first time.
	progress atomic.Int64
}

// reportProgress records pct if it advances the current value.
func (r *run) reportProgress(pct int) {
	if pct < 0 {
		return
	}
	if pct > 100 {
		pct = 100
	}
	for {
		cur := r.progress.Load()
		if int64(pct) <= cur {
			return
		}
		if r.progress.CompareAndSwap(cur, int64(pct)) {
			return
		}
	}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithThrottle installs a per-type throttle manager consulted before
// each claim attempt.
func WithThrottle(m *throttle.Manager) PoolOption {
	return func(p *Pool) {
		if m != nil {
			p.throttle = m
		}
	}
}

// Pool runs the claim side of the engine: a set of claim loops that
// dequeue visible operations via CAS, a heartbeat loop that renews
// leases and flushes progress for every local run, and a reaper loop
// that requeues operations whose owner stopped heartbeating.
type Pool struct {
	workerID id.WorkerID
	store    op.Store
	exec     *Executor
	hooks    *ext.Registry
	throttle *throttle.Manager
	cfg      lro.Config
	logger   *slog.Logger

	runMu sync.Mutex
	runs  map[string]*run

	mu      sync.Mutex
	started bool
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a Pool. Tunables (concurrency, poll and heartbeat
// intervals, lease timeout, batch size) come from cfg.
func NewPool(store op.Store, exec *Executor, hooks *ext.Registry, cfg lro.Config, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		workerID: id.NewWorkerID(),
		store:    store,
		exec:     exec,
		hooks:    hooks,
		throttle: throttle.NewManager(),
		cfg:      cfg,
		logger:   logger,
		runs:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("worker_id", p.workerID.String()))
	return p
}

// WorkerID returns the pool's stable worker identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the claim, heartbeat, and reaper goroutines.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	p.started = true
	p.baseCtx, p.stop = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.claimLoop()
	}
	p.wg.Add(1)
	go p.heartbeatLoop()
	p.wg.Add(1)
	go p.reaperLoop()

	p.logger.Info("worker pool started",
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Duration("poll_interval", p.cfg.PollInterval),
		slog.Duration("lease_timeout", p.cfg.LeaseTimeout),
	)
	return nil
}

// Stop signals every loop to exit and waits for in-flight operations to
// drain, up to the context deadline. Operations still running after that
// keep their leases and are reclaimed by another pool once the lease
// times out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	stop := p.stop
	p.mu.Unlock()

	stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out with operations in flight",
			slog.Int("in_flight", p.activeCount()),
		)
		return ctx.Err()
	}
}

func (p *Pool) activeCount() int {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return len(p.runs)
}

// ──────────────────────────────────────────────────
// Claim loop
// ──────────────────────────────────────────────────

func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.baseCtx.Done():
			return
		default:
		}

		if p.claimAndExecute() {
			// Work was available; go straight back for more.
			continue
		}

		select {
		case <-p.baseCtx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// claimAndExecute tries to win one visible operation and run it to an
// outcome. Returns false when nothing was claimed, which tells the loop
// to back off for a poll interval.
func (p *Pool) claimAndExecute() bool {
	ctx := p.baseCtx
	now := time.Now().UTC()

	candidates, err := p.store.ListQueuedOps(ctx, now, p.cfg.ClaimBatchSize)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Error("listing queued operations failed", slog.String("error", err.Error()))
		}
		return false
	}

	for _, candidate := range candidates {
		if !p.throttle.Acquire(candidate.Type) {
			continue
		}

		token := uuid.NewString()
		claimed, casErr := p.store.CompareAndSwapOp(ctx, candidate.ID, op.StateQueued, func(c *op.Operation) error {
			return c.Claim(token, time.Now().UTC())
		})
		if casErr != nil {
			p.throttle.Release(candidate.Type)
			// Conflicts are the normal outcome of racing claimers; the
			// record was taken, cancelled, or reaped between list and CAS.
			if !errors.Is(casErr, lro.ErrConflict) &&
				!errors.Is(casErr, lro.ErrOpNotFound) && !errors.Is(casErr, lro.ErrOpGone) {
				p.logger.Error("claim failed",
					slog.String("op_id", candidate.ID.String()),
					slog.String("error", casErr.Error()),
				)
			}
			continue
		}

		p.hooks.EmitOpClaimed(ctx, claimed)
		p.execute(claimed, token)
		return true
	}
	return false
}

// execute runs one claimed operation on the calling claim goroutine.
func (p *Pool) execute(claimed *op.Operation, token string) {
	defer p.throttle.Release(claimed.Type)

	runCtx, cancel := context.WithCancel(p.baseCtx)
	defer cancel()

	r := &run{op: claimed, token: token, cancel: cancel}
	r.progress.Store(-1)
	runCtx = unit.WithProgress(runCtx, r.reportProgress)

	key := claimed.ID.String()
	p.runMu.Lock()
	p.runs[key] = r
	p.runMu.Unlock()
	defer func() {
		p.runMu.Lock()
		delete(p.runs, key)
		p.runMu.Unlock()
	}()

	if err := p.exec.Execute(runCtx, claimed, token); err != nil {
		p.logger.Error("executing operation failed",
			slog.String("op_id", claimed.ID.String()),
			slog.String("op_type", claimed.Type),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Heartbeat loop
// ──────────────────────────────────────────────────

// heartbeatLoop renews the lease for every local run and flushes any
// progress the unit reported since the last beat. A heartbeat CAS that
// loses means the operation was cancelled or reclaimed out from under
// us: the local execution context is cancelled so the unit can stop
// early, and the eventual result is discarded at commit time.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.baseCtx.Done():
			return
		case <-ticker.C:
			p.beatAll()
		}
	}
}

func (p *Pool) beatAll() {
	p.runMu.Lock()
	snapshot := make([]*run, 0, len(p.runs))
	for _, r := range p.runs {
		snapshot = append(snapshot, r)
	}
	p.runMu.Unlock()

	for _, r := range snapshot {
		p.beat(r)
	}
}

func (p *Pool) beat(r *run) {
	now := time.Now().UTC()
	progress := int(r.progress.Load())

	_, err := p.store.CompareAndSwapOp(p.baseCtx, r.op.ID, op.StateRunning, func(c *op.Operation) error {
		return c.Heartbeat(r.token, progress, now)
	})
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, lro.ErrConflict), errors.Is(err, lro.ErrNotOwner),
		errors.Is(err, lro.ErrOpNotFound), errors.Is(err, lro.ErrOpGone):
		p.logger.Info("operation superseded, cancelling local execution",
			slog.String("op_id", r.op.ID.String()),
			slog.String("reason", err.Error()),
		)
		r.cancel()
	case errors.Is(err, context.Canceled):
		// Pool is shutting down.
	default:
		p.logger.Warn("heartbeat failed",
			slog.String("op_id", r.op.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Lease reaper
// ──────────────────────────────────────────────────

// reaperLoop scans for running operations whose heartbeat is older than
// the lease timeout and hands them to the executor for reclamation.
// Every pool runs a reaper; the CAS makes concurrent reapers safe.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.baseCtx.Done():
			return
		case <-ticker.C:
			p.reapStale()
		}
	}
}

func (p *Pool) reapStale() {
	ctx := p.baseCtx
	cutoff := time.Now().UTC().Add(-p.cfg.LeaseTimeout)

	stale, err := p.store.ListStaleOps(ctx, cutoff, p.cfg.ClaimBatchSize)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Error("listing stale operations failed", slog.String("error", err.Error()))
		}
		return
	}

	for _, o := range stale {
		if err := p.exec.Reclaim(ctx, o); err != nil {
			p.logger.Error("reclaiming stale operation failed",
				slog.String("op_id", o.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
