package op

import (
	"context"
	"time"

	"github.com/xraph/lro/id"
)

// Mutator is applied to a copy of the stored record inside
// CompareAndSwapOp. Returning an error aborts the swap without writing.
type Mutator func(o *Operation) error

// Store defines the persistence contract for operation records.
//
// CompareAndSwapOp is the sole mutation primitive after creation: callers
// read a record, build the mutation, and submit it together with the
// state they believe is current. The store rejects the write with
// lro.ErrConflict when the stored state differs, forcing a re-read. Every
// state transition is therefore a single atomic check-and-set, which is
// what lets independent worker processes race safely on claim, heartbeat,
// and sweep.
type Store interface {
	// CreateOp persists a new queued operation.
	// Returns lro.ErrOpAlreadyExists on ID collision.
	CreateOp(ctx context.Context, o *Operation) error

	// GetOp retrieves an operation by ID. Returns lro.ErrOpNotFound for
	// identifiers never seen and lro.ErrOpGone for records reaped after
	// their retention window (the tombstone distinction).
	GetOp(ctx context.Context, opID id.OpID) (*Operation, error)

	// CompareAndSwapOp atomically applies mutate to the record iff its
	// stored state equals expected. On success the updated record is
	// returned. Returns lro.ErrConflict on a state mismatch and
	// propagates any error returned by mutate unchanged.
	CompareAndSwapOp(ctx context.Context, opID id.OpID, expected State, mutate Mutator) (*Operation, error)

	// ListQueuedOps returns up to limit queued operations whose
	// visibility time has elapsed, ordered by SubmittedAt ascending.
	ListQueuedOps(ctx context.Context, now time.Time, limit int) ([]*Operation, error)

	// ListStaleOps returns up to limit running operations whose last
	// heartbeat is older than cutoff — candidates for lease reclamation.
	ListStaleOps(ctx context.Context, cutoff time.Time, limit int) ([]*Operation, error)

	// ListExpiredOps returns up to limit terminal operations whose
	// ExpiresAt has passed.
	ListExpiredOps(ctx context.Context, now time.Time, limit int) ([]*Operation, error)

	// DeleteOp removes a record and leaves a tombstone so later lookups
	// report gone rather than not-found.
	DeleteOp(ctx context.Context, opID id.OpID) error

	// PruneTombstones removes tombstones older than before, bounding
	// their accumulation. Returns the number removed.
	PruneTombstones(ctx context.Context, before time.Time) (int64, error)

	// CountQueuedBefore counts queued operations submitted strictly
	// before t. Best-effort telemetry backing the queue-position field.
	CountQueuedBefore(ctx context.Context, t time.Time) (int64, error)
}
