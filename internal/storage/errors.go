package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Append-only stores do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a transaction lost a race with a concurrent
	// writer and was rolled back.
	ErrConflict = errors.New("transaction conflict")

	// ErrTxnTooLarge is returned when a single transaction exceeds the
	// backend's write size limit. Nothing was committed.
	ErrTxnTooLarge = errors.New("transaction too large")
)
