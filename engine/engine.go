package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/lro"
	"github.com/xraph/lro/backoff"
	"github.com/xraph/lro/classify"
	"github.com/xraph/lro/coordinator"
	"github.com/xraph/lro/ext"
	"github.com/xraph/lro/id"
	"github.com/xraph/lro/middleware"
	"github.com/xraph/lro/op"
	"github.com/xraph/lro/retention"
	"github.com/xraph/lro/status"
	"github.com/xraph/lro/store"
	"github.com/xraph/lro/sweeper"
	"github.com/xraph/lro/throttle"
	"github.com/xraph/lro/unit"
)

// Engine is the assembled operation engine: submission and cancellation
// on the write side, the status projection on the read side, with the
// coordinator pool and retention sweeper running underneath as tracker
// runners.
type Engine struct {
	tracker  *lro.Tracker
	store    store.Store
	registry *unit.Registry
	hooks    *ext.Registry
	policy   retention.Policy
	status   *status.Service
	pool     *coordinator.Pool
	sweeper  *sweeper.Sweeper
	cfg      lro.Config
	logger   *slog.Logger
}

// buildOptions collects everything Build can be configured with.
type buildOptions struct {
	extensions []ext.Extension
	middleware []middleware.Middleware
	backoff    backoff.Strategy
	classifier classify.Classifier
	policy     retention.Policy
	throttles  []throttle.Config
	tracer     trace.TracerProvider
	meter      metric.MeterProvider
	opTimeout  time.Duration
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) BuildOption {
	return func(o *buildOptions) { o.extensions = append(o.extensions, e) }
}

// WithMiddleware appends execution middleware, applied after the
// built-in recover and logging layers in the order given.
func WithMiddleware(mws ...middleware.Middleware) BuildOption {
	return func(o *buildOptions) { o.middleware = append(o.middleware, mws...) }
}

// WithBackoff sets the retry backoff strategy.
func WithBackoff(s backoff.Strategy) BuildOption {
	return func(o *buildOptions) { o.backoff = s }
}

// WithClassifier sets the error classifier.
func WithClassifier(c classify.Classifier) BuildOption {
	return func(o *buildOptions) { o.classifier = c }
}

// WithRetention sets the retention policy for terminal records.
func WithRetention(p retention.Policy) BuildOption {
	return func(o *buildOptions) { o.policy = p }
}

// WithThrottleConfig adds per-type claim throttling.
func WithThrottleConfig(cfgs ...throttle.Config) BuildOption {
	return func(o *buildOptions) { o.throttles = append(o.throttles, cfgs...) }
}

// WithOperationTimeout bounds every execution with a deadline.
func WithOperationTimeout(d time.Duration) BuildOption {
	return func(o *buildOptions) { o.opTimeout = d }
}

// WithTracerProvider enables execution tracing through the given provider.
func WithTracerProvider(tp trace.TracerProvider) BuildOption {
	return func(o *buildOptions) { o.tracer = tp }
}

// WithMeterProvider enables execution metrics through the given provider.
func WithMeterProvider(mp metric.MeterProvider) BuildOption {
	return func(o *buildOptions) { o.meter = mp }
}

// Build assembles an Engine on top of a configured Tracker. The
// tracker's store must be a full store.Store; Build migrates it, wires
// the coordinator pool and sweeper as tracker runners, and installs the
// extension registry for shutdown hooks. Call tracker.Start to begin
// claiming work.
func Build(t *lro.Tracker, opts ...BuildOption) (*Engine, error) {
	st, ok := t.Store().(store.Store)
	if !ok || st == nil {
		return nil, lro.ErrNoStore
	}

	bo := buildOptions{
		backoff:    backoff.DefaultStrategy(),
		classifier: classify.Default(),
		policy:     retention.DefaultTable(),
	}
	for _, opt := range opts {
		opt(&bo)
	}

	logger := t.Logger()
	cfg := t.Config()

	if err := st.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %w", lro.ErrMigrationFailed, err)
	}

	hooks := ext.NewRegistry(logger)
	for _, e := range bo.extensions {
		hooks.Register(e)
		logger.Info("extension registered", slog.String("extension", e.Name()))
	}

	mws := []middleware.Middleware{
		middleware.Recover(logger),
		middleware.Logging(logger),
	}
	if bo.tracer != nil {
		mws = append(mws, middleware.TracingWithTracer(bo.tracer.Tracer("lro")))
	}
	if bo.meter != nil {
		mws = append(mws, middleware.MetricsWithMeter(bo.meter.Meter("lro")))
	}
	if bo.opTimeout > 0 {
		mws = append(mws, middleware.Timeout(bo.opTimeout))
	}
	mws = append(mws, bo.middleware...)

	registry := unit.NewRegistry()
	stats := status.NewStats()

	exec := coordinator.NewExecutor(
		registry, hooks, st,
		bo.classifier, bo.backoff, bo.policy,
		stats, logger,
		mws...,
	)

	pool := coordinator.NewPool(st, exec, hooks, cfg, logger,
		coordinator.WithThrottle(throttle.NewManager(bo.throttles...)),
	)
	sw := sweeper.New(st, hooks, cfg, logger)

	t.AddRunner(pool)
	t.AddRunner(sw)
	t.SetHooks(hooks)

	return &Engine{
		tracker:  t,
		store:    st,
		registry: registry,
		hooks:    hooks,
		policy:   bo.policy,
		status:   status.NewService(st, stats),
		pool:     pool,
		sweeper:  sw,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Register registers a typed work unit on the engine.
//
// Package-level because Go does not allow generic methods.
func Register[I, O any](e *Engine, def *unit.Definition[I, O]) error {
	if def.Type == "" {
		return lro.ErrEmptyOpType
	}
	unit.RegisterDefinition(e.registry, def)
	return nil
}

// RegisterRaw registers a type-erased work unit on the engine.
func (e *Engine) RegisterRaw(opType string, h unit.HandlerFunc) error {
	if opType == "" {
		return lro.ErrEmptyOpType
	}
	e.registry.Register(opType, h)
	return nil
}

// SubmitRequest describes one submission.
type SubmitRequest struct {
	// Type selects the registered work unit.
	Type string

	// Input is the JSON payload handed to the work unit. May be empty.
	// Bounded by Config.MaxInputBytes.
	Input []byte

	// IdempotencyKey deduplicates resubmissions: while an operation with
	// this key exists, submitting again returns it instead of creating a
	// new one. Empty disables deduplication.
	IdempotencyKey string

	// MaxRetries overrides the engine default when non-nil. Zero means
	// no retries.
	MaxRetries *int
}

// SubmitResult is the submission outcome.
type SubmitResult struct {
	// Op is the queued (or previously existing) operation.
	Op *op.Operation

	// Existing is true when the idempotency key matched a live
	// operation and no new record was created.
	Existing bool
}

// Submit validates a request and enqueues the operation. Validation
// failures (unknown type, malformed input) are returned synchronously
// and never create a record.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Type == "" {
		return nil, lro.ErrEmptyOpType
	}
	if _, ok := e.registry.Get(req.Type); !ok {
		return nil, fmt.Errorf("%w: %q", lro.ErrUnknownOpType, req.Type)
	}
	if e.cfg.MaxInputBytes > 0 && len(req.Input) > e.cfg.MaxInputBytes {
		return nil, fmt.Errorf("%w: input is %d bytes, limit is %d", lro.ErrInvalidInput, len(req.Input), e.cfg.MaxInputBytes)
	}
	if len(req.Input) > 0 && !sonic.Valid(req.Input) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", lro.ErrInvalidInput)
	}

	maxRetries := e.cfg.DefaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: maxRetries must not be negative", lro.ErrInvalidInput)
		}
		maxRetries = *req.MaxRetries
	}

	create := func() (*op.Operation, error) {
		o := op.New(req.Type, req.Input, maxRetries)
		o.IdempotencyKey = req.IdempotencyKey
		return o, nil
	}

	var (
		o       *op.Operation
		created bool
		err     error
	)
	if req.IdempotencyKey != "" {
		o, created, err = e.store.ReserveOrGet(ctx, req.IdempotencyKey, create)
	} else {
		o, err = create()
		if err == nil {
			err = e.store.CreateOp(ctx, o)
			created = err == nil
		}
	}
	if err != nil {
		return nil, err
	}

	if created {
		e.hooks.EmitOpSubmitted(ctx, o)
		e.logger.Info("operation submitted",
			slog.String("op_id", o.ID.String()),
			slog.String("op_type", o.Type),
			slog.Int("max_retries", o.MaxRetries),
		)
	}

	return &SubmitResult{Op: o, Existing: !created}, nil
}

// Cancel requests cancellation of a queued or running operation.
// A queued operation is cancelled immediately and never runs. A running
// operation is marked cancelled in the store; the executing worker
// observes the lost lease at its next heartbeat and discards the
// result. Cancelling a terminal operation returns ErrInvalidState.
func (e *Engine) Cancel(ctx context.Context, opID id.OpID, by string) (*op.Operation, error) {
	now := time.Now().UTC()

	mutate := func(c *op.Operation) error {
		probe := *c
		probe.State = op.StateCancelled
		return c.Cancel(by, now, e.policy.Retention(&probe))
	}

	updated, err := e.store.CompareAndSwapOp(ctx, opID, op.StateQueued, mutate)
	if errors.Is(err, lro.ErrConflict) {
		updated, err = e.store.CompareAndSwapOp(ctx, opID, op.StateRunning, mutate)
	}
	if errors.Is(err, lro.ErrConflict) {
		// Neither queued nor running: the operation already settled.
		current, getErr := e.store.GetOp(ctx, opID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("cancel %s in state %s: %w", opID, current.State, lro.ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}

	e.hooks.EmitOpCancelled(ctx, updated, by)
	e.logger.Info("operation cancelled",
		slog.String("op_id", opID.String()),
		slog.String("cancelled_by", by),
	)
	return updated, nil
}

// Status returns the client-facing view of an operation.
func (e *Engine) Status(ctx context.Context, opID id.OpID) (*status.Status, error) {
	return e.status.Get(ctx, opID)
}

// WorkerID returns the identity of the local coordinator pool.
func (e *Engine) WorkerID() id.WorkerID { return e.pool.WorkerID() }

// Sweep forces one retention sweep pass outside the timer.
func (e *Engine) Sweep(ctx context.Context) { e.sweeper.Sweep(ctx) }
