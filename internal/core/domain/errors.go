package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation covers unknown users, products and carts.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock means the reservation snapshot showed less stock
	// than requested. Safe to retry the whole operation later.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConcurrencyConflict means the optimistic reservation batch was
	// invalidated by a concurrent writer. No counter changed.
	ErrConcurrencyConflict = errors.New("concurrent stock modification")

	// ErrDurableWriteFailure means the order transaction aborted. No Payment,
	// Orders or Shopping_cart row from the attempt survives.
	ErrDurableWriteFailure = errors.New("durable write failed")
)

// PartialFailureError reports the one state that needs manual reconciliation:
// the stock reservation committed, the durable order write failed, and the
// compensating Restore failed too. The ledger counters are now lower than the
// orders on record justify. It is deliberately not unwrappable to
// ErrDurableWriteFailure so callers cannot mistake it for "nothing happened".
type PartialFailureError struct {
	UserID        int64
	Items         map[int64]int
	CommitErr     error
	CompensateErr error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure for user %d: reservation of %d product(s) not restored (commit: %v; compensation: %v)",
		e.UserID, len(e.Items), e.CommitErr, e.CompensateErr)
}
