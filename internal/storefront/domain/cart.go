package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem expresses purchase intent; it is not a stock reservation.
type CartItem struct {
	ID        CartItemID
	UserID    UserID
	ProductID ProductID
	Quantity  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

type CartLine struct {
	Item     CartItem
	Product  Product
	Subtotal decimal.Decimal
}

type Cart struct {
	UserID UserID
	Lines  []CartLine
	Total  decimal.Decimal
}

// NewCart computes per-line subtotals and the grand total.
func NewCart(userID UserID, items []CartItem, products map[ProductID]Product) Cart {
	c := Cart{UserID: userID, Lines: make([]CartLine, 0, len(items)), Total: decimal.Zero}
	for _, it := range items {
		p := products[it.ProductID]
		sub := LineSubtotal(p.Price, it.Quantity)
		c.Lines = append(c.Lines, CartLine{Item: it, Product: p, Subtotal: sub})
		c.Total = c.Total.Add(sub)
	}
	return c
}

func (c Cart) Empty() bool { return len(c.Lines) == 0 }
