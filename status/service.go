// Package status projects stored operation records into the read-only
// view a polling client sees. The projection never exposes internal
// bookkeeping (lease tokens, CAS versions, visibility times) and
// enriches each state with what a caller can act on: queue position
// while queued, progress and a completion estimate while running, the
// output or failure once terminal.
package status

import (
	"context"
	"time"

	"github.com/xraph/lro/id"
	"github.com/xraph/lro/op"
)

// Status is the client-facing view of one operation.
type Status struct {
	ID          id.OpID   `json:"id"`
	Type        string    `json:"type"`
	State       op.State  `json:"state"`
	SubmittedAt time.Time `json:"submittedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// QueuePosition is a best-effort count of queued operations ahead of
	// this one. Present only while queued.
	QueuePosition *int64 `json:"queuePosition,omitempty"`

	// Running fields. StartedAt is also populated for completed
	// operations so callers can derive the execution duration.
	Progress              *int       `json:"progress,omitempty"`
	StartedAt             *time.Time `json:"startedAt,omitempty"`
	EstimatedCompletionAt *time.Time `json:"estimatedCompletionAt,omitempty"`

	// TerminalAt is when the operation reached its terminal state.
	TerminalAt *time.Time `json:"terminalAt,omitempty"`

	// RetryCount is how many retries the operation has consumed so far.
	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`

	// Output carries the result of a completed operation.
	Output []byte `json:"output,omitempty"`

	// Failure describes a terminal failure.
	Failure *op.Failure `json:"failure,omitempty"`

	// CancelledBy identifies who cancelled the operation.
	CancelledBy string `json:"cancelledBy,omitempty"`

	// ExpiresAt is when a terminal record becomes eligible for reaping.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Service answers status queries.
type Service struct {
	store op.Store
	stats *Stats
}

// NewService creates a Service reading from store and estimating
// completion times from stats.
func NewService(store op.Store, stats *Stats) *Service {
	return &Service{store: store, stats: stats}
}

// Get returns the current status of an operation. It returns ErrOpGone
// for records already reaped and ErrOpNotFound for identifiers the
// store has never seen.
func (s *Service) Get(ctx context.Context, opID id.OpID) (*Status, error) {
	o, err := s.store.GetOp(ctx, opID)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, o), nil
}

func (s *Service) project(ctx context.Context, o *op.Operation) *Status {
	st := &Status{
		ID:          o.ID,
		Type:        o.Type,
		State:       o.State,
		SubmittedAt: o.SubmittedAt,
		UpdatedAt:   o.UpdatedAt,
		RetryCount:  o.RetryCount,
		MaxRetries:  o.MaxRetries,
		ExpiresAt:   o.ExpiresAt,
	}

	switch o.State {
	case op.StateQueued:
		// Position is advisory: it races with claims by design and may
		// be stale the moment it is computed.
		if pos, err := s.store.CountQueuedBefore(ctx, o.SubmittedAt); err == nil {
			st.QueuePosition = &pos
		}

	case op.StateRunning:
		progress := o.Progress
		st.Progress = &progress
		st.StartedAt = o.StartedAt
		if est, ok := s.estimate(o); ok {
			st.EstimatedCompletionAt = &est
		}

	case op.StateCompleted:
		st.Output = o.Output
		st.StartedAt = o.StartedAt
		st.TerminalAt = o.TerminalAt

	case op.StateFailed:
		st.Failure = o.Failure
		st.TerminalAt = o.TerminalAt

	case op.StateCancelled:
		st.CancelledBy = o.CancelledBy
		st.TerminalAt = o.TerminalAt
	}

	return st
}

// estimate predicts when a running operation will finish from the
// moving average duration of its type. No history means no estimate;
// an overdue operation reports "any moment now" rather than a time in
// the past.
func (s *Service) estimate(o *op.Operation) (time.Time, bool) {
	if o.StartedAt == nil {
		return time.Time{}, false
	}
	avg, ok := s.stats.Average(o.Type)
	if !ok {
		return time.Time{}, false
	}
	est := o.StartedAt.Add(avg)
	if now := time.Now().UTC(); est.Before(now) {
		est = now
	}
	return est, true
}
