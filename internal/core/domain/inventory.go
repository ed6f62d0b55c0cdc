package domain

// InventoryRecord is the durable per-product on-hand quantity. It is a lagging
// mirror: reservation decisions are made against the volatile stock ledger,
// and this row is decremented only after an order has fully committed.
type InventoryRecord struct {
	ProductID int64
	Quantity  int
}
