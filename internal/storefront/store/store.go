// Package store declares the persistence boundary of the storefront.
//
// Store covers plain user-scoped reads and cart edits. Tx is only reachable
// through Store.WithinTx and carries the locking reads and writes used by
// checkout; every row it locks stays locked until the transaction ends.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
)

type Store interface {
	Product(ctx context.Context, id domain.ProductID) (domain.Product, error)
	Products(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]domain.Product, error)

	CartItems(ctx context.Context, userID domain.UserID) ([]domain.CartItem, error)
	CartItem(ctx context.Context, userID domain.UserID, id domain.CartItemID) (domain.CartItem, error)
	CartItemByProduct(ctx context.Context, userID domain.UserID, productID domain.ProductID) (domain.CartItem, error)
	InsertCartItem(ctx context.Context, userID domain.UserID, productID domain.ProductID, qty int) (domain.CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, userID domain.UserID, id domain.CartItemID, qty int) error
	DeleteCartItem(ctx context.Context, userID domain.UserID, id domain.CartItemID) error

	Order(ctx context.Context, userID domain.UserID, id domain.OrderID) (domain.Order, error)
	OrderIDByIdempotencyKey(ctx context.Context, userID domain.UserID, key string) (domain.OrderID, error)

	SalesSummary(ctx context.Context, r domain.DateRange) ([]domain.SalesSummaryRow, error)

	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

type Tx interface {
	LockCart(ctx context.Context, userID domain.UserID) ([]domain.CartItem, error)
	LockProduct(ctx context.Context, id domain.ProductID) (domain.ProductSnapshot, error)
	// DecrementStock never lets stock go negative; it reports the remaining stock.
	DecrementStock(ctx context.Context, id domain.ProductID, amount int) (int, error)

	CreateOrder(ctx context.Context, userID domain.UserID, status domain.OrderStatus, placedAt time.Time) (domain.Order, error)
	CreateOrderItem(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error)
	SetOrderTotal(ctx context.Context, id domain.OrderID, total decimal.Decimal) error
	ClearCart(ctx context.Context, userID domain.UserID) error

	// RecordIdempotencyKey fails with ErrDuplicateKey when the key is taken.
	RecordIdempotencyKey(ctx context.Context, userID domain.UserID, key string, orderID domain.OrderID) error
}
