// Package store defines the composite persistence interface for LRO.
//
// Each subsystem (op records, idempotency index) defines its own store
// interface; a single backend implements all of them plus lifecycle.
// Backends live in subpackages: memory (tests/dev), redis
// (high-throughput ephemeral), postgres (durable).
package store

import (
	"context"

	"github.com/xraph/lro/idempotency"
	"github.com/xraph/lro/op"
)

// Store is the full persistence contract a backend implements.
type Store interface {
	op.Store
	idempotency.Index

	// Migrate creates or upgrades backend schema. No-op where the
	// backend is schemaless.
	Migrate(ctx context.Context) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
