package lro

import (
	"context"
	"log/slog"
)

// Option configures a Tracker.
type Option func(*Tracker) error

// Storer is the minimal store interface held by the Tracker. It covers
// lifecycle operations only; the subsystem interfaces (op.Store,
// idempotency.Index) are type-asserted in the engine layer, which sits
// above the packages that would otherwise create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for background component lifecycle
// (the coordinator pool and the retention sweeper).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for shutdown hook emission.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Tracker is the root lifecycle holder for the operation engine.
//
// Create one with New() and functional options, then use engine.Build to
// wire the coordinator, sweeper, and status projection on top of it. The
// Tracker holds its components through internal interfaces to avoid
// import cycles.
type Tracker struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter

	// runners are started in order and stopped in reverse.
	runners []runner

	started bool
}

// New creates a Tracker with the given options.
func New(opts ...Option) (*Tracker, error) {
	t := &Tracker{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Logger returns the tracker's logger.
func (t *Tracker) Logger() *slog.Logger { return t.logger }

// Store returns the tracker's store.
func (t *Tracker) Store() Storer { return t.store }

// Config returns a copy of the tracker's configuration.
func (t *Tracker) Config() Config { return t.config }

// AddRunner registers a background component (called by the engine layer).
func (t *Tracker) AddRunner(r runner) { t.runners = append(t.runners, r) }

// SetHooks sets the lifecycle hook emitter (called by the engine layer).
func (t *Tracker) SetHooks(h hookEmitter) { t.hooks = h }

// Start launches the registered background components.
func (t *Tracker) Start(ctx context.Context) error {
	if len(t.runners) == 0 {
		return ErrNoStore
	}
	for _, r := range t.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	t.started = true
	return nil
}

// Stop gracefully shuts down the tracker: runners in reverse order, then
// hooks, then the store.
func (t *Tracker) Stop(ctx context.Context) error {
	if t.started {
		for i := len(t.runners) - 1; i >= 0; i-- {
			if err := t.runners[i].Stop(ctx); err != nil {
				t.logger.Error("runner stop error", "error", err)
			}
		}
	}
	if t.hooks != nil {
		t.hooks.EmitShutdown(ctx)
	}
	if t.store != nil {
		return t.store.Close()
	}
	return nil
}

// WithConcurrency sets the number of concurrent claim loops.
func WithConcurrency(n int) Option {
	return func(t *Tracker) error {
		t.config.Concurrency = n
		return nil
	}
}

// WithLogger sets the structured logger for the tracker.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) error {
		t.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the tracker.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(t *Tracker) error {
		t.store = s
		return nil
	}
}

// WithConfig replaces the tracker's configuration wholesale.
func WithConfig(c Config) Option {
	return func(t *Tracker) error {
		t.config = c
		return nil
	}
}
