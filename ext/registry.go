package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/lro/op"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type opSubmittedEntry struct {
	name string
	hook OpSubmitted
}

type opClaimedEntry struct {
	name string
	hook OpClaimed
}

type opCompletedEntry struct {
	name string
	hook OpCompleted
}

type opFailedEntry struct {
	name string
	hook OpFailed
}

type opRetryingEntry struct {
	name string
	hook OpRetrying
}

type opCancelledEntry struct {
	name string
	hook OpCancelled
}

type opReclaimedEntry struct {
	name string
	hook OpReclaimed
}

type opExpiredEntry struct {
	name string
	hook OpExpired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Hook errors are logged and swallowed: an extension must never be able
// to fail an operation.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	opSubmitted []opSubmittedEntry
	opClaimed   []opClaimedEntry
	opCompleted []opCompletedEntry
	opFailed    []opFailedEntry
	opRetrying  []opRetryingEntry
	opCancelled []opCancelledEntry
	opReclaimed []opReclaimedEntry
	opExpired   []opExpiredEntry
	shutdown    []shutdownEntry
}

// NewRegistry creates an empty extension registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and caches the hooks it implements.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(OpSubmitted); ok {
		r.opSubmitted = append(r.opSubmitted, opSubmittedEntry{name, h})
	}
	if h, ok := e.(OpClaimed); ok {
		r.opClaimed = append(r.opClaimed, opClaimedEntry{name, h})
	}
	if h, ok := e.(OpCompleted); ok {
		r.opCompleted = append(r.opCompleted, opCompletedEntry{name, h})
	}
	if h, ok := e.(OpFailed); ok {
		r.opFailed = append(r.opFailed, opFailedEntry{name, h})
	}
	if h, ok := e.(OpRetrying); ok {
		r.opRetrying = append(r.opRetrying, opRetryingEntry{name, h})
	}
	if h, ok := e.(OpCancelled); ok {
		r.opCancelled = append(r.opCancelled, opCancelledEntry{name, h})
	}
	if h, ok := e.(OpReclaimed); ok {
		r.opReclaimed = append(r.opReclaimed, opReclaimedEntry{name, h})
	}
	if h, ok := e.(OpExpired); ok {
		r.opExpired = append(r.opExpired, opExpiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns the registered extensions in registration order.
func (r *Registry) Extensions() []Extension { return r.extensions }

func (r *Registry) hookErr(name, hook string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("extension", name),
		slog.String("hook", hook),
		slog.String("error", err.Error()),
	)
}

// EmitOpSubmitted notifies OpSubmitted hooks.
func (r *Registry) EmitOpSubmitted(ctx context.Context, o *op.Operation) {
	for _, en := range r.opSubmitted {
		if err := en.hook.OnOpSubmitted(ctx, o); err != nil {
			r.hookErr(en.name, "OnOpSubmitted", err)
		}
	}
}

// EmitOpClaimed notifies OpClaimed hooks.
func (r *Registry) EmitOpClaimed(ctx context.Context, o *op.Operation) {
	for _, en := range r.opClaimed {
		if err := en.hook.OnOpClaimed(ctx, o); err != nil {
			r.hookErr(en.name, "OnOpClaimed", err)
		}
	}
}

// EmitOpCompleted notifies OpCompleted hooks.
func (r *Registry) EmitOpCompleted(ctx context.Context, o *op.Operation, elapsed time.Duration) {
	for _, en := range r.opCompleted {
		if err := en.hook.OnOpCompleted(ctx, o, elapsed); err != nil {
			r.hookErr(en.name, "OnOpCompleted", err)
		}
	}
}

// EmitOpFailed notifies OpFailed hooks.
func (r *Registry) EmitOpFailed(ctx context.Context, o *op.Operation, failure op.Failure) {
	for _, en := range r.opFailed {
		if err := en.hook.OnOpFailed(ctx, o, failure); err != nil {
			r.hookErr(en.name, "OnOpFailed", err)
		}
	}
}

// EmitOpRetrying notifies OpRetrying hooks.
func (r *Registry) EmitOpRetrying(ctx context.Context, o *op.Operation, attempt int, visibleAt time.Time) {
	for _, en := range r.opRetrying {
		if err := en.hook.OnOpRetrying(ctx, o, attempt, visibleAt); err != nil {
			r.hookErr(en.name, "OnOpRetrying", err)
		}
	}
}

// EmitOpCancelled notifies OpCancelled hooks.
func (r *Registry) EmitOpCancelled(ctx context.Context, o *op.Operation, by string) {
	for _, en := range r.opCancelled {
		if err := en.hook.OnOpCancelled(ctx, o, by); err != nil {
			r.hookErr(en.name, "OnOpCancelled", err)
		}
	}
}

// EmitOpReclaimed notifies OpReclaimed hooks.
func (r *Registry) EmitOpReclaimed(ctx context.Context, o *op.Operation) {
	for _, en := range r.opReclaimed {
		if err := en.hook.OnOpReclaimed(ctx, o); err != nil {
			r.hookErr(en.name, "OnOpReclaimed", err)
		}
	}
}

// EmitOpExpired notifies OpExpired hooks.
func (r *Registry) EmitOpExpired(ctx context.Context, o *op.Operation) {
	for _, en := range r.opExpired {
		if err := en.hook.OnOpExpired(ctx, o); err != nil {
			r.hookErr(en.name, "OnOpExpired", err)
		}
	}
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, en := range r.shutdown {
		if err := en.hook.OnShutdown(ctx); err != nil {
			r.hookErr(en.name, "OnShutdown", err)
		}
	}
}
