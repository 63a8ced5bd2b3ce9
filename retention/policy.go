// Package retention decides how long a terminal operation's record and
// result stay queryable before the sweeper reaps them.
//
// Retention is a function of the operation's outcome and the size of its
// result, not a fixed constant: small successful results are cheap to
// keep and polled the longest, large ones are reaped sooner, and failed
// operations are held for a fixed diagnostic window. Per-type overrides
// let callers tune individual workloads.
package retention

import (
	"time"

	"github.com/xraph/lro/op"
)

// Outcome is the terminal disposition a policy keys on.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// SizeClass buckets a result payload by size.
type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
)

// Policy maps a terminal operation to its retention window.
type Policy interface {
	Retention(o *op.Operation) time.Duration
}

// Key addresses one cell of the policy table.
type Key struct {
	Outcome Outcome
	Size    SizeClass
}

// Table is a (outcome, size class) → duration lookup with a default.
type Table struct {
	// Durations holds the configured cells. Missing cells fall back to
	// Default.
	Durations map[Key]time.Duration

	// Default applies when no cell matches. Zero falls back to 24h.
	Default time.Duration

	// SmallMax and MediumMax are the payload-size boundaries in bytes.
	// Zero values use 64KiB and 1MiB.
	SmallMax  int
	MediumMax int
}

const (
	defaultWindow    = 24 * time.Hour
	defaultSmallMax  = 64 << 10
	defaultMediumMax = 1 << 20
)

// DefaultTable returns the stock policy: small successful results are
// kept a full day, large ones an hour, failures three days for
// diagnosis, cancellations a day.
func DefaultTable() *Table {
	return &Table{
		Durations: map[Key]time.Duration{
			{OutcomeSucceeded, SizeSmall}:  24 * time.Hour,
			{OutcomeSucceeded, SizeMedium}: 6 * time.Hour,
			{OutcomeSucceeded, SizeLarge}:  1 * time.Hour,
			{OutcomeFailed, SizeSmall}:     72 * time.Hour,
			{OutcomeFailed, SizeMedium}:    72 * time.Hour,
			{OutcomeFailed, SizeLarge}:     72 * time.Hour,
			{OutcomeCancelled, SizeSmall}:  24 * time.Hour,
			{OutcomeCancelled, SizeMedium}: 24 * time.Hour,
			{OutcomeCancelled, SizeLarge}:  24 * time.Hour,
		},
	}
}

// Retention implements Policy.
func (t *Table) Retention(o *op.Operation) time.Duration {
	k := Key{Outcome: OutcomeOf(o), Size: t.classify(len(o.Output))}
	if d, ok := t.Durations[k]; ok {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return defaultWindow
}

func (t *Table) classify(n int) SizeClass {
	smallMax := t.SmallMax
	if smallMax <= 0 {
		smallMax = defaultSmallMax
	}
	mediumMax := t.MediumMax
	if mediumMax <= 0 {
		mediumMax = defaultMediumMax
	}
	switch {
	case n <= smallMax:
		return SizeSmall
	case n <= mediumMax:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// OutcomeOf derives the policy outcome from an operation's state.
// Queued/running operations have no outcome yet and map to failed's
// conservative window if ever asked.
func OutcomeOf(o *op.Operation) Outcome {
	switch o.State {
	case op.StateCompleted:
		return OutcomeSucceeded
	case op.StateCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// PerType dispatches to a per-operation-type policy, falling back to
// Base for types without an override.
type PerType struct {
	ByType map[string]Policy
	Base   Policy
}

// Retention implements Policy.
func (p *PerType) Retention(o *op.Operation) time.Duration {
	if pol, ok := p.ByType[o.Type]; ok {
		return pol.Retention(o)
	}
	if p.Base != nil {
		return p.Base.Retention(o)
	}
	return DefaultTable().Retention(o)
}

// Fixed is a constant-duration policy, handy for tests and per-type
// overrides.
type Fixed time.Duration

// Retention implements Policy.
func (f Fixed) Retention(_ *op.Operation) time.Duration { return time.Duration(f) }
