// Package lro provides a library-first tracking engine for asynchronous
// long-running operations — the server side of the "202 Accepted" pattern.
// Callers submit an operation and get an identifier back immediately;
// worker pools claim, execute, and retry the work in the background while
// clients poll a read-only status projection.
//
// LRO is designed as a library, not a service. Import it, configure a
// store, register work units as ordinary Go functions, and submit.
//
// # Quick Start
//
//	tr, err := lro.New(
//	    lro.WithStore(memory.New()),
//	    lro.WithConcurrency(20),
//	)
//
// Use the engine package to wire the coordinator, sweeper, and status
// projection on top of a Tracker, then Submit/Status/Cancel.
//
// # Architecture
//
// All coordination funnels through the store's compare-and-swap primitive:
// every state transition is a single atomic check-and-set, so multiple
// worker processes can safely race on claiming and updating the same
// records. Idempotency keys, retry backoff, lease-based crash recovery,
// and retention-driven expiry are built on the same primitive.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package lro
