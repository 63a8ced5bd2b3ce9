package op

import (
	"time"

	"github.com/xraph/lro"
	"github.com/xraph/lro/id"
)

// State represents the lifecycle state of an operation.
type State string

const (
	// StateQueued means the operation is waiting to be claimed by a worker.
	StateQueued State = "queued"
	// StateRunning means a worker currently holds the lease and is executing.
	StateRunning State = "running"
	// StateCompleted means the operation finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the operation failed and will not be retried.
	StateFailed State = "failed"
	// StateCancelled means the operation was cancelled by an external request.
	StateCancelled State = "cancelled"
	// StateExpired is a response-time classification for operations whose
	// record has been reaped after the retention window. It is never stored.
	StateExpired State = "expired"
)

// Terminal reports whether the state is a sink: no transition leads out
// of it (the internal retry requeue is not observable as a state).
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateExpired:
		return true
	default:
		return false
	}
}

// Failure is the structured error recorded when an operation terminally
// fails. Retryable tells the client whether resubmission (with a fresh
// idempotency key) is sensible.
type Failure struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Operation is the tracked unit of asynchronous work.
//
// The record is created by the submission path in StateQueued, mutated
// only by the coordinator (through the store's compare-and-swap) and the
// sweeper (deletion), and read by the status projection.
type Operation struct {
	lro.Entity

	ID    id.OpID `json:"id"`
	Type  string  `json:"type"`
	State State   `json:"state"`

	// Progress is 0-100, meaningful only while running. It is monotonic
	// non-decreasing and frozen at its last value once terminal.
	Progress int `json:"progress"`

	// Input is the caller-supplied payload, immutable after creation.
	// Output is set exactly once on transition into StateCompleted.
	// Failure is set exactly once on transition into StateFailed.
	// Output and Failure are mutually exclusive.
	Input   []byte   `json:"input,omitempty"`
	Output  []byte   `json:"output,omitempty"`
	Failure *Failure `json:"failure,omitempty"`

	// IdempotencyKey, when present, is unique among non-expired operations.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// OwnerToken is the lease held by the worker that claimed the
	// operation. Heartbeats and terminal transitions must carry it.
	OwnerToken string `json:"owner_token,omitempty"`

	// CancelledBy records who requested cancellation.
	CancelledBy string `json:"cancelled_by,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`

	// VisibleAt is the earliest time a queued operation may be claimed.
	// Retry backoff is expressed as a visibility delay.
	VisibleAt time.Time `json:"visible_at"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	TerminalAt  *time.Time `json:"terminal_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	// Version is the optimistic-concurrency stamp bumped by every CAS
	// write. Internal to the store backends; never exposed to clients.
	Version int64 `json:"version"`
}

// New builds a queued operation ready for CreateOp.
func New(opType string, input []byte, maxRetries int) *Operation {
	now := time.Now().UTC()
	return &Operation{
		Entity:      lro.NewEntity(),
		ID:          id.NewOpID(),
		Type:        opType,
		State:       StateQueued,
		Input:       input,
		MaxRetries:  maxRetries,
		SubmittedAt: now,
		VisibleAt:   now,
	}
}

// Terminal reports whether the operation has reached a sink state.
func (o *Operation) Terminal() bool { return o.State.Terminal() }

// RetriesExhausted reports whether the retry budget is spent.
func (o *Operation) RetriesExhausted() bool { return o.RetryCount >= o.MaxRetries }
