package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "Placed"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusDelivered OrderStatus = "Delivered"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "Credit_card"
	PaymentMethodDebitCard  PaymentMethod = "Debt_card"
	PaymentMethodPayPal     PaymentMethod = "PayPal"
)

type PaymentStatus string

const (
	PaymentStatusPaid     PaymentStatus = "Paid"
	PaymentStatusUnpaid   PaymentStatus = "Unpaid"
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

// PaymentInfo is what the caller supplies at checkout; the Payment row is
// created from it inside the order transaction.
type PaymentInfo struct {
	Method PaymentMethod
	Status PaymentStatus
}

type Payment struct {
	ID     int64
	Method PaymentMethod
	Status PaymentStatus
}

// Order is the durable order row. Shipping and return references stay nil in
// this subsystem; later fulfilment stages fill them in.
type Order struct {
	ID         int64
	Status     OrderStatus
	Price      decimal.Decimal
	Date       time.Time
	UserID     int64
	ShippingID *int64
	PaymentID  int64
	ReturnID   *int64
}

// OrderItem is one priced line of a checkout attempt.
type OrderItem struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}
