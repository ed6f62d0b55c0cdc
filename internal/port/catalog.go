package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// Catalog resolves unit prices. Unknown products yield domain.ErrValidation.
type Catalog interface {
	GetUnitPrice(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// UserDirectory resolves user identity. Unknown emails yield domain.ErrValidation.
type UserDirectory interface {
	GetUserID(ctx context.Context, email string) (int64, error)
}

// InventorySource provides the durable on-hand snapshot consumed once at
// ledger initialization.
type InventorySource interface {
	GetOnHandQuantity(ctx context.Context, productID int64) (int, error)
}
