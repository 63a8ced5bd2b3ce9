// Package op defines the operation entity, its state machine, and the
// store contract the rest of the engine is built on.
//
// # Operation Entity
//
// An [Operation] represents one asynchronously tracked unit of work. It
// embeds [lro.Entity] for timestamps, carries opaque input/output
// payloads, and progresses through a state machine:
//
//	queued → running → completed
//	queued → running → queued → running → ...   (internal retry, backoff)
//	queued → running → failed
//	queued | running → cancelled
//	any terminal → expired                       (time-driven, via deletion)
//
// "expired" is a response-time classification, not a stored value: once
// the sweeper reaps a record, lookups answer lro.ErrOpGone, which the
// status layer reports as expired — distinct from never-existed.
//
// # Concurrency Contract
//
// [Store.CompareAndSwapOp] is the sole mutation primitive. The transition
// methods on Operation (Claim, Heartbeat, Complete, Fail, Requeue,
// Cancel) are written to run inside a CAS mutator: the store makes the
// expected-state check atomic, the methods enforce legality, lease
// ownership, and timestamp stamping. Exactly one of N racing claimers
// wins; the others observe lro.ErrConflict and move on.
package op
