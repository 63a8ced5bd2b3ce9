// Package ext defines the extension system for LRO. Extensions are
// notified of operation lifecycle events (submitted, claimed, completed,
// expired, ...) and can react to them — audit trails, metrics, alerts.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/lro/op"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// OpSubmitted is called after an operation is durably created.
type OpSubmitted interface {
	OnOpSubmitted(ctx context.Context, o *op.Operation) error
}

// OpClaimed is called when a worker wins the claim CAS and begins
// executing an operation.
type OpClaimed interface {
	OnOpClaimed(ctx context.Context, o *op.Operation) error
}

// OpCompleted is called after an operation finishes successfully.
type OpCompleted interface {
	OnOpCompleted(ctx context.Context, o *op.Operation, elapsed time.Duration) error
}

// OpFailed is called when an operation fails terminally.
type OpFailed interface {
	OnOpFailed(ctx context.Context, o *op.Operation, failure op.Failure) error
}

// OpRetrying is called when a transient failure requeues an operation
// with a visibility delay.
type OpRetrying interface {
	OnOpRetrying(ctx context.Context, o *op.Operation, attempt int, visibleAt time.Time) error
}

// OpCancelled is called after an external cancellation lands.
type OpCancelled interface {
	OnOpCancelled(ctx context.Context, o *op.Operation, by string) error
}

// OpReclaimed is called when the lease reaper returns a stale running
// operation to the queue.
type OpReclaimed interface {
	OnOpReclaimed(ctx context.Context, o *op.Operation) error
}

// OpExpired is called when the sweeper reaps an operation past its
// retention window.
type OpExpired interface {
	OnOpExpired(ctx context.Context, o *op.Operation) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
