package models

import "errors"

// Sentinel errors for the ledger. They are pure domain values; the API
// layer maps them to HTTP statuses and callers test them with errors.Is.
var (
	// ErrValidation covers bad input: non-positive amounts, a missing
	// required note, refill exceeding quota. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateTransaction means an event already exists for the
	// (upstream_type, upstream_tx_id) pair. The operation already
	// happened; callers should treat it as an idempotent no-op.
	ErrDuplicateTransaction = errors.New("duplicate upstream transaction")

	// ErrInsufficientCredits means no single pool could cover the amount.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAccountNotFound is returned by plain reads that do not create.
	ErrAccountNotFound = errors.New("credit account not found")

	// ErrEventNotFound is returned when no event matches a lookup.
	ErrEventNotFound = errors.New("credit event not found")

	// ErrTxConflict is a transient storage conflict (serialization
	// failure, deadlock, timeout). Nothing was committed; the whole
	// operation is safe to retry.
	ErrTxConflict = errors.New("transaction conflict")

	// ErrUnauthorized is returned when admin credentials do not match.
	ErrUnauthorized = errors.New("unauthorized")
)
