package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewCartTotals(t *testing.T) {
	a := Product{ID: 1, Name: "A", Price: decimal.RequireFromString("19.99"), StockQuantity: 10}
	b := Product{ID: 2, Name: "B", Price: decimal.RequireFromString("33.17"), StockQuantity: 10}
	items := []CartItem{
		{ID: 1, UserID: 7, ProductID: a.ID, Quantity: 2},
		{ID: 2, UserID: 7, ProductID: b.ID, Quantity: 3},
	}
	c := NewCart(7, items, map[ProductID]Product{a.ID: a, b.ID: b})

	if c.Empty() {
		t.Fatal("cart should not be empty")
	}
	if want := decimal.RequireFromString("139.49"); !c.Total.Equal(want) {
		t.Fatalf("total = %s, want %s", c.Total, want)
	}
	if !c.Lines[0].Subtotal.Equal(decimal.RequireFromString("39.98")) {
		t.Fatalf("line 0 subtotal = %s", c.Lines[0].Subtotal)
	}
}

func TestEmptyCart(t *testing.T) {
	c := NewCart(1, nil, nil)
	if !c.Empty() || !c.Total.IsZero() {
		t.Fatalf("unexpected cart %+v", c)
	}
}

func TestSumSubtotals(t *testing.T) {
	items := []OrderItem{
		{Quantity: 1, UnitPrice: decimal.RequireFromString("0.10"), Subtotal: decimal.RequireFromString("0.10")},
		{Quantity: 2, UnitPrice: decimal.RequireFromString("0.10"), Subtotal: LineSubtotal(decimal.RequireFromString("0.10"), 2)},
	}
	if got := SumSubtotals(items); !got.Equal(decimal.RequireFromString("0.30")) {
		t.Fatalf("sum = %s", got)
	}
}

func TestDayRangeIsHalfOpen(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	r := DayRange(time.Date(2026, 5, 4, 23, 59, 0, 0, loc))

	if !r.Contains(time.Date(2026, 5, 4, 0, 0, 0, 0, loc)) {
		t.Fatal("start of day should be included")
	}
	if r.Contains(time.Date(2026, 5, 5, 0, 0, 0, 0, loc)) {
		t.Fatal("next midnight should be excluded")
	}
	if !r.Contains(time.Date(2026, 5, 4, 20, 59, 0, 0, time.UTC)) {
		t.Fatal("instant in another zone inside the day should be included")
	}
}

func TestErrorKinds(t *testing.T) {
	v := NewValidationError("quantity", "Quantity must be at least 1.")
	if !errors.Is(v, ErrValidation) {
		t.Fatal("validation error should unwrap to ErrValidation")
	}

	soft := &StockError{ProductID: 1, Requested: 5, Available: 2}
	if soft.Error() != "Requested quantity exceeds available stock." {
		t.Fatalf("soft message: %q", soft.Error())
	}
	hard := &StockError{ProductID: 1, ProductName: "Desk Lamp", Requested: 5, Available: 2}
	if hard.Error() != "Insufficient stock for Desk Lamp." {
		t.Fatalf("hard message: %q", hard.Error())
	}
	if !errors.Is(fmt.Errorf("checkout: %w", hard), ErrInsufficientStock) {
		t.Fatal("stock error should unwrap to ErrInsufficientStock")
	}

	if !IsRetryable(fmt.Errorf("x: %w", ErrConcurrencyConflict)) {
		t.Fatal("conflict should be retryable")
	}
	if IsRetryable(ErrEmptyCart) {
		t.Fatal("empty cart is not retryable")
	}
}
