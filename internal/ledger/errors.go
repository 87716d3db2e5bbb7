package ledger

import (
	"errors"

	"token-ledger/internal/address"
)

// Ledger errors. Callers match them with errors.Is.
var (
	// ErrInvalidDecimals is returned when a token declares more than domain.MaxDecimals.
	ErrInvalidDecimals = errors.New("decimals must not exceed 18")

	// ErrInvalidAddress is returned when an identifier fails validation.
	ErrInvalidAddress = address.ErrInvalidAddress

	// ErrCapExceeded is returned when total supply would exceed the mint cap.
	ErrCapExceeded = errors.New("minting cannot exceed the cap")

	// ErrUnauthorized is returned when the caller may not mint.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrArithmeticOverflow is returned when a 128-bit sum overflows.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrNotInitialized is returned by queries against a ledger without token metadata.
	ErrNotInitialized = errors.New("ledger not initialized")

	// ErrAlreadyInitialized is returned when Init runs against an initialized ledger.
	ErrAlreadyInitialized = errors.New("ledger already initialized")

	// ErrSupplyMismatch is returned when the stored balances do not add up to total supply.
	ErrSupplyMismatch = errors.New("sum of balances does not match total supply")
)
