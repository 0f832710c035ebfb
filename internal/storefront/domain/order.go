package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UserID int64
type ProductID int64
type OrderID int64
type CartItemID int64
type OrderItemID int64

type OrderStatus string

const (
	OrderStatusPlaced OrderStatus = "placed"
	// Payment is out of scope: checkout records the order as already settled.
	OrderStatusPaid OrderStatus = "paid"
)

type OrderItem struct {
	ID          OrderItemID
	OrderID     OrderID
	ProductID   ProductID
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal // price copied at checkout, not a live reference
	Subtotal    decimal.Decimal

	CreatedAt time.Time
}

type Order struct {
	ID       OrderID
	UserID   UserID
	Status   OrderStatus
	Total    decimal.Decimal
	Items    []OrderItem
	PlacedAt time.Time
}

// LineSubtotal is quantity × unit price.
func LineSubtotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// SumSubtotals returns the order total for the given items.
func SumSubtotals(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	return total
}

// LowStockEvent is emitted when a checkout leaves a product at or below the
// configured threshold. It is never persisted.
type LowStockEvent struct {
	ProductID     ProductID
	ProductName   string
	StockQuantity int
	OrderID       OrderID
}
