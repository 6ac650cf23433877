package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds rejects a BUY whose cost exceeds the available
	// balance. Nothing is mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrQuoteUnavailable means the price oracle returned no usable price.
	// Background sweeps retry on the next tick; synchronous callers see it
	// as a user-visible failure.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrMarketClosed rejects placements outside the 9:15-15:45 IST window.
	ErrMarketClosed = errors.New("market is closed")

	// ErrOrderNotFound is returned for operations on unknown order ids.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotOpen rejects modify/cancel on executed or cancelled orders.
	ErrOrderNotOpen = errors.New("order is not open")

	// ErrNoPosition rejects a close-position call with nothing to exit.
	ErrNoPosition = errors.New("no position to exit")

	// errClaimLost is internal to the trigger sweep: another worker won the
	// OPEN->PROCESSING claim. The order is silently skipped.
	errClaimLost = errors.New("order claim lost")
)

// ValidationError rejects a malformed request before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ShortConfirmationError is not a failure but a distinguished outcome: the
// user asked to sell quantity they do not own and has not confirmed the
// short. The caller is expected to re-submit with AllowShort set.
type ShortConfirmationError struct {
	Requested int64
	Owned     int64
}

func (e *ShortConfirmationError) Error() string {
	return fmt.Sprintf("selling %d but only %d owned, confirm short sell", e.Requested, e.Owned)
}
