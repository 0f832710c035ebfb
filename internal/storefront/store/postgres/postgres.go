// Package postgres implements the storefront store on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
	pgtx "github.com/nazeru/storefront-checkout-go/pkg/tx"
)

//go:embed schema.sql
var schema string

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db          DB
	lockTimeout time.Duration
}

var _ store.Store = (*Store)(nil)

func New(db DB, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Seed inserts the demo catalogue; existing products are left alone.
func Seed(ctx context.Context, db DB) error {
	_, err := db.Exec(ctx, `INSERT INTO products(name, price, stock_quantity) VALUES
		('Canvas Backpack', 54.99, 12),
		('Desk Lamp', 29.50, 8),
		('Wireless Earbuds', 79.00, 5),
		('Ceramic Mug Set', 24.00, 20)
		ON CONFLICT (name) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case pgtx.IsConflict(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConcurrencyConflict, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
	}
}

const productCols = `id, name, price, stock_quantity`
const cartCols = `id, user_id, product_id, quantity, created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity)
	return p, err
}

func scanCartItems(rows pgx.Rows) ([]domain.CartItem, error) {
	defer rows.Close()
	var out []domain.CartItem
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.ProductID, &it.Quantity, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) Product(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	p, err := scanProduct(s.db.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, int64(id)))
	if err != nil {
		return domain.Product{}, wrap("product", err)
	}
	return p, nil
}

func (s *Store) Products(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]domain.Product, error) {
	raw := make([]int64, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, int64(id))
	}
	rows, err := s.db.Query(ctx, `SELECT `+productCols+` FROM products WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, wrap("products", err)
	}
	defer rows.Close()

	out := make(map[domain.ProductID]domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, wrap("products", err)
		}
		out[p.ID] = p
	}
	return out, wrap("products", rows.Err())
}

func (s *Store) CartItems(ctx context.Context, userID domain.UserID) ([]domain.CartItem, error) {
	rows, err := s.db.Query(ctx, `SELECT `+cartCols+` FROM cart_items WHERE user_id=$1 ORDER BY id`, int64(userID))
	if err != nil {
		return nil, wrap("cart items", err)
	}
	items, err := scanCartItems(rows)
	return items, wrap("cart items", err)
}

func (s *Store) CartItem(ctx context.Context, userID domain.UserID, id domain.CartItemID) (domain.CartItem, error) {
	rows, err := s.db.Query(ctx, `SELECT `+cartCols+` FROM cart_items WHERE user_id=$1 AND id=$2`, int64(userID), int64(id))
	if err != nil {
		return domain.CartItem{}, wrap("cart item", err)
	}
	return firstCartItem("cart item", rows)
}

func (s *Store) CartItemByProduct(ctx context.Context, userID domain.UserID, productID domain.ProductID) (domain.CartItem, error) {
	rows, err := s.db.Query(ctx, `SELECT `+cartCols+` FROM cart_items WHERE user_id=$1 AND product_id=$2`, int64(userID), int64(productID))
	if err != nil {
		return domain.CartItem{}, wrap("cart item by product", err)
	}
	return firstCartItem("cart item by product", rows)
}

func firstCartItem(op string, rows pgx.Rows) (domain.CartItem, error) {
	items, err := scanCartItems(rows)
	if err != nil {
		return domain.CartItem{}, wrap(op, err)
	}
	if len(items) == 0 {
		return domain.CartItem{}, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return items[0], nil
}

func (s *Store) InsertCartItem(ctx context.Context, userID domain.UserID, productID domain.ProductID, qty int) (domain.CartItem, error) {
	it := domain.CartItem{UserID: userID, ProductID: productID, Quantity: qty}
	err := s.db.QueryRow(ctx, `INSERT INTO cart_items(user_id, product_id, quantity) VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`, int64(userID), int64(productID), qty).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	if pgtx.IsUniqueViolation(err) {
		// Another request created the row between our read and this insert.
		return domain.CartItem{}, fmt.Errorf("insert cart item: %w", domain.ErrConcurrencyConflict)
	}
	if err != nil {
		return domain.CartItem{}, wrap("insert cart item", err)
	}
	return it, nil
}

func (s *Store) UpdateCartItemQuantity(ctx context.Context, userID domain.UserID, id domain.CartItemID, qty int) error {
	tag, err := s.db.Exec(ctx, `UPDATE cart_items SET quantity=$3, updated_at=now() WHERE user_id=$1 AND id=$2`, int64(userID), int64(id), qty)
	if err != nil {
		return wrap("update cart item", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update cart item: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteCartItem(ctx context.Context, userID domain.UserID, id domain.CartItemID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND id=$2`, int64(userID), int64(id))
	return wrap("delete cart item", err)
}

func (s *Store) Order(ctx context.Context, userID domain.UserID, id domain.OrderID) (domain.Order, error) {
	var o domain.Order
	err := s.db.QueryRow(ctx, `SELECT id, user_id, status, total, placed_at FROM orders WHERE user_id=$1 AND id=$2`,
		int64(userID), int64(id)).Scan(&o.ID, &o.UserID, &o.Status, &o.Total, &o.PlacedAt)
	if err != nil {
		return domain.Order{}, wrap("order", err)
	}

	rows, err := s.db.Query(ctx, `SELECT oi.id, oi.order_id, oi.product_id, COALESCE(p.name, 'Unknown'), oi.quantity, oi.unit_price, oi.subtotal, oi.created_at
		FROM order_items oi LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id=$1 ORDER BY oi.id`, int64(id))
	if err != nil {
		return domain.Order{}, wrap("order items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.Subtotal, &it.CreatedAt); err != nil {
			return domain.Order{}, wrap("order items", err)
		}
		o.Items = append(o.Items, it)
	}
	return o, wrap("order items", rows.Err())
}

func (s *Store) OrderIDByIdempotencyKey(ctx context.Context, userID domain.UserID, key string) (domain.OrderID, error) {
	var id domain.OrderID
	err := s.db.QueryRow(ctx, `SELECT order_id FROM checkout_idempotency WHERE user_id=$1 AND idempotency_key=$2`,
		int64(userID), key).Scan(&id)
	if err != nil {
		return 0, wrap("idempotency lookup", err)
	}
	return id, nil
}

func (s *Store) SalesSummary(ctx context.Context, r domain.DateRange) ([]domain.SalesSummaryRow, error) {
	rows, err := s.db.Query(ctx, `SELECT oi.product_id, COALESCE(p.name, 'Unknown'), SUM(oi.quantity)::int, SUM(oi.subtotal)
		FROM order_items oi LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.created_at >= $1 AND oi.created_at < $2
		GROUP BY oi.product_id, p.name
		ORDER BY oi.product_id`, r.From, r.To)
	if err != nil {
		return nil, wrap("sales summary", err)
	}
	defer rows.Close()

	var out []domain.SalesSummaryRow
	for rows.Next() {
		var row domain.SalesSummaryRow
		if err := rows.Scan(&row.ProductID, &row.Name, &row.Quantity, &row.Total); err != nil {
			return nil, wrap("sales summary", err)
		}
		out = append(out, row)
	}
	return out, wrap("sales summary", rows.Err())
}

func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	var fnErr error
	err := pgtx.Run(ctx, s.db, pgtx.Options{LockTimeout: s.lockTimeout}, func(t pgx.Tx) error {
		fnErr = fn(&txStore{tx: t})
		return fnErr
	})
	if err == nil || err == fnErr {
		return err
	}
	return wrap("tx", err)
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) LockCart(ctx context.Context, userID domain.UserID) ([]domain.CartItem, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+cartCols+` FROM cart_items WHERE user_id=$1 ORDER BY id FOR UPDATE`, int64(userID))
	if err != nil {
		return nil, wrap("lock cart", err)
	}
	items, err := scanCartItems(rows)
	return items, wrap("lock cart", err)
}

func (t *txStore) LockProduct(ctx context.Context, id domain.ProductID) (domain.ProductSnapshot, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1 FOR UPDATE`, int64(id)))
	if err != nil {
		return domain.ProductSnapshot{}, wrap("lock product", err)
	}
	return p.Snapshot(), nil
}

func (t *txStore) DecrementStock(ctx context.Context, id domain.ProductID, amount int) (int, error) {
	var remaining int
	err := t.tx.QueryRow(ctx, `UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id=$1 AND stock_quantity >= $2 RETURNING stock_quantity`, int64(id), amount).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("decrement stock: %w", domain.ErrInsufficientStock)
	}
	if err != nil {
		return 0, wrap("decrement stock", err)
	}
	return remaining, nil
}

func (t *txStore) CreateOrder(ctx context.Context, userID domain.UserID, status domain.OrderStatus, placedAt time.Time) (domain.Order, error) {
	o := domain.Order{UserID: userID, Status: status, Total: decimal.Zero, PlacedAt: placedAt}
	err := t.tx.QueryRow(ctx, `INSERT INTO orders(user_id, status, total, placed_at) VALUES ($1, $2, 0, $3) RETURNING id`,
		int64(userID), string(status), placedAt).Scan(&o.ID)
	if err != nil {
		return domain.Order{}, wrap("create order", err)
	}
	return o, nil
}

func (t *txStore) CreateOrderItem(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO order_items(order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		int64(item.OrderID), int64(item.ProductID), item.Quantity, item.UnitPrice, item.Subtotal).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return domain.OrderItem{}, wrap("create order item", err)
	}
	return item, nil
}

func (t *txStore) SetOrderTotal(ctx context.Context, id domain.OrderID, total decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET total=$2, updated_at=now() WHERE id=$1`, int64(id), total)
	return wrap("set order total", err)
}

func (t *txStore) ClearCart(ctx context.Context, userID domain.UserID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, int64(userID))
	return wrap("clear cart", err)
}

func (t *txStore) RecordIdempotencyKey(ctx context.Context, userID domain.UserID, key string, orderID domain.OrderID) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO checkout_idempotency(user_id, idempotency_key, order_id) VALUES ($1, $2, $3)`,
		int64(userID), key, int64(orderID))
	if pgtx.IsUniqueViolation(err) {
		return store.ErrDuplicateKey
	}
	return wrap("record idempotency key", err)
}
