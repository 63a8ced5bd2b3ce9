package op

import (
	"fmt"
	"time"

	"github.com/xraph/lro"
)

// ValidTransition reports whether from → to is a legal state change.
// The requeue path (running → queued) is legal because retry-with-backoff
// is expressed internally as a return to the queue; terminal states are
// sinks.
func ValidTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateRunning || to == StateCancelled
	case StateRunning:
		return to == StateRunning || to == StateQueued ||
			to == StateCompleted || to == StateFailed || to == StateCancelled
	default:
		return false
	}
}

// The methods below are the only sanctioned mutations of an Operation.
// They are designed to run inside a store CompareAndSwapOp mutator: the
// store guarantees the expected-state check is atomic, the methods
// guarantee legality, lease ownership, and timestamp stamping.

// Claim transitions queued → running on behalf of the worker holding
// token. Exactly one of several racing claimers wins the surrounding CAS.
func (o *Operation) Claim(token string, now time.Time) error {
	if o.State != StateQueued {
		return fmt.Errorf("claim %s in state %s: %w", o.ID, o.State, lro.ErrInvalidState)
	}
	o.State = StateRunning
	o.OwnerToken = token
	n := now
	o.StartedAt = &n
	o.HeartbeatAt = &n
	return nil
}

// Heartbeat refreshes the lease and optionally advances progress.
// progress < 0 leaves the current value untouched. A stale worker whose
// operation was reclaimed or cancelled fails the ownership check and must
// abandon the work.
func (o *Operation) Heartbeat(token string, progress int, now time.Time) error {
	if o.State != StateRunning {
		return fmt.Errorf("heartbeat %s in state %s: %w", o.ID, o.State, lro.ErrInvalidState)
	}
	if o.OwnerToken != token {
		return lro.ErrNotOwner
	}
	if progress >= 0 {
		if progress < o.Progress {
			return lro.ErrProgressRegression
		}
		if progress > 100 {
			progress = 100
		}
		o.Progress = progress
	}
	n := now
	o.HeartbeatAt = &n
	return nil
}

// Complete transitions running → completed, recording the output exactly
// once and stamping the retention deadline.
func (o *Operation) Complete(token string, output []byte, now time.Time, retention time.Duration) error {
	if o.State != StateRunning {
		return fmt.Errorf("complete %s in state %s: %w", o.ID, o.State, lro.ErrInvalidState)
	}
	if o.OwnerToken != token {
		return lro.ErrNotOwner
	}
	o.State = StateCompleted
	o.Output = output
	o.OwnerToken = ""
	o.stampTerminal(now, retention)
	return nil
}

// Fail transitions running → failed terminally, recording the structured
// failure exactly once. Callers that exhausted the retry budget must set
// Retryable=false regardless of the original error's classification.
func (o *Operation) Fail(token string, f Failure, now time.Time, retention time.Duration) error {
	if o.State != StateRunning {
		return fmt.Errorf("fail %s in state %s: %w", o.ID, o.State, lro.ErrInvalidState)
	}
	if o.OwnerToken != token {
		return lro.ErrNotOwner
	}
	if f.Message == "" {
		f.Message = "operation failed"
	}
	o.State = StateFailed
	o.Failure = &f
	o.OwnerToken = ""
	o.stampTerminal(now, retention)
	return nil
}

// Requeue is the internal retry path: running → queued with an
// incremented retry count and a visibility delay. It is never observable
// as a public state change beyond the retry counter. The caller must
// check RetriesExhausted first; requeueing past the budget is an error.
// Progress resets to zero: monotonicity is scoped to a single running
// attempt, and the next attempt starts the work over.
func (o *Operation) Requeue(token string, delay time.Duration, now time.Time) error {
	if o.State != StateRunning {
		return fmt.Errorf("requeue %s in state %s: %w", o.ID, o.State, lro.ErrInvalidState)
	}
	if o.OwnerToken != token {
		return lro.ErrNotOwner
	}
	if o.RetriesExhausted() {
		return lro.ErrMaxRetriesExceeded
	}
	o.State = StateQueued
	o.RetryCount++
	o.Progress = 0
	o.OwnerToken = ""
	o.StartedAt = nil
	o.HeartbeatAt = nil
	o.VisibleAt = now.Add(delay)
	return nil
}

// Cancel transitions queued|running → cancelled. Cancellation is
// advisory for in-flight work: the running worker observes it at its
// next heartbeat (ownership CAS conflict) and discards the result.
func (o *Operation) Cancel(by string, now time.Time, retention time.Duration) error {
	if o.State != StateQueued && o.State != StateRunning {
		return fmt.Errorf("cancel %s in state %s: %w", o.ID, o.State, lro.ErrInvalidState)
	}
	o.State = StateCancelled
	o.CancelledBy = by
	o.OwnerToken = ""
	o.stampTerminal(now, retention)
	return nil
}

func (o *Operation) stampTerminal(now time.Time, retention time.Duration) {
	n := now
	o.TerminalAt = &n
	exp := now.Add(retention)
	o.ExpiresAt = &exp
}
