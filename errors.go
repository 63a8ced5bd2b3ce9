package lro

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("lro: no store configured")
	ErrStoreClosed     = errors.New("lro: store closed")
	ErrMigrationFailed = errors.New("lro: migration failed")

	// Lookup errors. ErrOpGone is distinct from ErrOpNotFound: gone means
	// the operation existed and was reaped after its retention window,
	// not-found means the identifier was never seen.
	ErrOpNotFound = errors.New("lro: operation not found")
	ErrOpGone     = errors.New("lro: operation expired and reaped")

	// Conflict errors. ErrConflict is the expected outcome of a lost
	// compare-and-swap race and is always resolved by re-reading; it is
	// never an operation-level failure.
	ErrOpAlreadyExists        = errors.New("lro: operation already exists")
	ErrConflict               = errors.New("lro: concurrent state change, re-read required")
	ErrIdempotencyKeyConflict = errors.New("lro: idempotency key maps to a different operation")

	// State errors.
	ErrInvalidState       = errors.New("lro: invalid state transition")
	ErrNotOwner           = errors.New("lro: lease token does not own this operation")
	ErrProgressRegression = errors.New("lro: progress may not decrease")
	ErrMaxRetriesExceeded = errors.New("lro: max retries exceeded")

	// Submission errors — rejected synchronously, never stored.
	ErrUnknownOpType = errors.New("lro: no work unit registered for operation type")
	ErrEmptyOpType   = errors.New("lro: operation type must not be empty")
	ErrInvalidInput  = errors.New("lro: invalid operation input")
)
