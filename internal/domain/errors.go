package domain

import "errors"

// Engine error kinds. All are local, recoverable conditions surfaced to the
// caller; none are process-fatal. Record-missing conditions use
// storage.ErrNotFound wrapped with context.
var (
	// ErrInvalidAmount is returned for a non-positive or malformed amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when the payer balance is below the
	// mint amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientBalance is returned when a redemption amount exceeds
	// the token's value.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrUnauthorized is returned when the caller does not own the token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPolicyNotInitialized is returned when no composition policy has
	// been created yet.
	ErrPolicyNotInitialized = errors.New("composition policy not initialized")

	// ErrInvalidState is returned on an illegal request state transition.
	ErrInvalidState = errors.New("invalid request state")

	// ErrNotReady is returned when execution is attempted before the
	// request is approved (or auto-approvable).
	ErrNotReady = errors.New("request not ready for execution")

	// ErrOperationFailed is returned when a constituent trade failed during
	// execution.
	ErrOperationFailed = errors.New("rebalance operation failed")

	// ErrPriceUnavailable is returned when no price is known for a
	// constituent the caller needs priced.
	ErrPriceUnavailable = errors.New("constituent price unavailable")
)
