// Package classify defines the failure-classification contract between
// the engine and the embedding application.
//
// What counts as "transient" is domain knowledge the engine cannot
// hard-code: a timeout against a flaky upstream is retryable, a
// malformed document is not. The embedding application supplies a
// Classifier; the coordinator uses its verdict as the single input to
// the retry-versus-terminal branch.
package classify

import (
	"context"
	"errors"
)

// Classification is the engine-facing verdict on a work-unit error.
type Classification struct {
	// Kind is a short machine-readable label recorded in the terminal
	// failure (e.g. "timeout", "throttled", "invalid_input").
	Kind string

	// Retryable selects the requeue-with-backoff path while the retry
	// budget lasts. Non-retryable errors are immediately terminal.
	Retryable bool
}

// Classifier maps a work-unit error to a Classification.
type Classifier interface {
	Classify(err error) Classification
}

// Func adapts a plain function to the Classifier interface.
type Func func(err error) Classification

// Classify implements Classifier.
func (f Func) Classify(err error) Classification { return f(err) }

// transientError and permanentError let work units pre-classify their
// own failures by wrapping; Default honors the wrappers.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient marks err as retryable for the Default classifier.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Permanent marks err as non-retryable for the Default classifier.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Default returns the classifier used when the application supplies
// none: wrapper markers win, context deadline errors count as transient
// timeouts, everything else is permanent. Conservative on purpose —
// blind retries of unknown errors repeat side effects.
func Default() Classifier {
	return Func(func(err error) Classification {
		var tr *transientError
		if errors.As(err, &tr) {
			return Classification{Kind: "transient", Retryable: true}
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return Classification{Kind: "permanent", Retryable: false}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Classification{Kind: "timeout", Retryable: true}
		}
		return Classification{Kind: "error", Retryable: false}
	})
}
