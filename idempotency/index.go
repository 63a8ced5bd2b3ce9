// Package idempotency defines the index that collapses repeated
// submissions carrying the same caller-supplied key onto one operation.
//
// The index is logically a second shared structure next to the record
// store (backends co-locate them physically) with its own atomicity
// requirement: two simultaneous submissions with the same key must yield
// exactly one created operation, with both callers observing the same
// result.
package idempotency

import (
	"context"

	"github.com/xraph/lro/id"
	"github.com/xraph/lro/op"
)

// Factory builds the operation to insert when a key is free. It is
// called at most once per ReserveOrGet invocation.
type Factory func() (*op.Operation, error)

// Index maps idempotency keys to live operations with insert-if-absent
// semantics.
type Index interface {
	// ReserveOrGet atomically resolves key. If key already maps to a
	// live (non-reaped) operation, that operation is returned with
	// created=false and create is never invoked. If key is free, create
	// builds a fresh operation and the key mapping plus the record are
	// persisted in the same atomic step — both succeed or neither does,
	// so a key can never point at a nonexistent record.
	//
	// Keys whose operations have been reaped are free for reuse.
	ReserveOrGet(ctx context.Context, key string, create Factory) (o *op.Operation, created bool, err error)

	// ReleaseKey removes the key → opID mapping if it still points at
	// opID. Called by the sweeper when reaping, which is what makes
	// expired keys reusable.
	ReleaseKey(ctx context.Context, key string, opID id.OpID) error
}
