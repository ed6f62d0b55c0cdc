package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hqpham/shop-checkout/internal/core/domain"
)

// OrderStore is the durable relational store behind the order commit path.
type OrderStore interface {
	// GetOrCreateOpenCart returns the user's single open cart, creating one
	// when none exists. Safe under concurrent calls for the same user: the
	// store's uniqueness constraint picks exactly one winner.
	GetOrCreateOpenCart(ctx context.Context, userID int64) (domain.Cart, error)

	// CommitOrder writes the Payment row, the Orders row and the cart
	// open-to-placed transition in one transaction and returns the new order
	// id. Any failure rolls the whole transaction back and yields
	// domain.ErrDurableWriteFailure; no row from the attempt survives.
	CommitOrder(ctx context.Context, userID, cartID int64, items []domain.OrderItem, total decimal.Decimal, payment domain.PaymentInfo) (int64, error)

	// DecrementInventory applies the post-commit mirror decrement for one
	// product. Best-effort; order correctness never depends on it.
	DecrementInventory(ctx context.Context, productID int64, quantity int) error
}
