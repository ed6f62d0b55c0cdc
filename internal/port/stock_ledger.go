package port

import (
	"context"

	"github.com/hqpham/shop-checkout/internal/core/domain"
)

// StockLedger is the fast-path reservation counter store. It is the
// authoritative source for "available to reserve" quantity; the durable
// inventory table only mirrors it after orders commit.
type StockLedger interface {
	// Initialize seeds the counter for a product from the durable snapshot.
	// Idempotent, last writer wins.
	Initialize(ctx context.Context, productID int64, quantity int) error

	// Reserve decrements every listed counter as a single atomic unit, or none
	// of them. Returns domain.ErrInsufficientStock when any counter is short,
	// domain.ErrConcurrencyConflict when a concurrent writer invalidated the
	// snapshot. No built-in retry; the caller owns the retry policy.
	Reserve(ctx context.Context, items map[int64]int) error

	// Restore increments counters back, compensating a reservation whose
	// downstream durable commit failed.
	Restore(ctx context.Context, items map[int64]int) error

	// Available reads the current counter; a missing counter reads as 0.
	Available(ctx context.Context, productID int64) (int, error)
}

// CartContents is the volatile per-user item selection buffer. It is a working
// buffer, not the source of truth for placed orders, and may be lost on a
// volatile-store restart.
type CartContents interface {
	AddItem(ctx context.Context, userID, productID int64, quantity int) error
	Get(ctx context.Context, userID int64) (map[int64]int, error)
	Clear(ctx context.Context, userID int64) error
}

// ActivityTracker records peripheral per-user bookkeeping (sessions, viewed
// products). The order commit path never consults it.
type ActivityTracker interface {
	StartSession(ctx context.Context, userID int64, device string) (domain.Session, error)
	ViewProduct(ctx context.Context, userID, productID int64) error
	RecentlyViewed(ctx context.Context, userID int64) ([]int64, error)
}
