package domain

import "time"

// Cart is the durable shopping cart row. A user has at most one cart with
// Placed=false at any time; that uniqueness is enforced by the store, not by
// application locking. Once placed, a cart is terminal for this subsystem.
type Cart struct {
	ID        int64
	UserID    int64
	Placed    bool
	OrderID   *int64
	CreatedAt time.Time
}
