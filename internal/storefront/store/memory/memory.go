// Package memory is an in-process store with the same locking contract as
// the postgres store: row locks are held until the transaction ends, waits
// are bounded, and a failed transaction leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
)

type idemKey struct {
	user domain.UserID
	key  string
}

type Store struct {
	mu         sync.Mutex
	products   map[domain.ProductID]domain.Product
	cart       map[domain.CartItemID]domain.CartItem
	orders     map[domain.OrderID]domain.Order
	orderItems []domain.OrderItem
	idem       map[idemKey]domain.OrderID

	nextProduct, nextCart, nextOrder, nextItem int64

	locks       *lockTable
	lockTimeout time.Duration
	now         func() time.Time
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

// WithClock overrides the timestamp source for created rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(lockTimeout time.Duration, opts ...Option) *Store {
	s := &Store{
		products:    make(map[domain.ProductID]domain.Product),
		cart:        make(map[domain.CartItemID]domain.CartItem),
		orders:      make(map[domain.OrderID]domain.Order),
		idem:        make(map[idemKey]domain.OrderID),
		locks:       newLockTable(),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddProduct is the administrative restock/catalogue entry point.
func (s *Store) AddProduct(name string, price decimal.Decimal, stock int) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProduct++
	p := domain.Product{ID: domain.ProductID(s.nextProduct), Name: name, Price: price, StockQuantity: stock}
	s.products[p.ID] = p
	return p
}

// RemoveProduct drops a product from the catalogue; order history is kept.
func (s *Store) RemoveProduct(id domain.ProductID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

// SetPrice changes the live price without touching existing orders.
func (s *Store) SetPrice(id domain.ProductID, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		p.Price = price
		s.products[id] = p
	}
}

func (s *Store) Seed() {
	s.AddProduct("Canvas Backpack", decimal.RequireFromString("54.99"), 12)
	s.AddProduct("Desk Lamp", decimal.RequireFromString("29.50"), 8)
	s.AddProduct("Wireless Earbuds", decimal.RequireFromString("79.00"), 5)
	s.AddProduct("Ceramic Mug Set", decimal.RequireFromString("24.00"), 20)
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) OrderItems() []domain.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderItem(nil), s.orderItems...)
}

func (s *Store) Product(_ context.Context, id domain.ProductID) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *Store) Products(_ context.Context, ids []domain.ProductID) (map[domain.ProductID]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ProductID]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) CartItems(_ context.Context, userID domain.UserID) ([]domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartOf(userID), nil
}

// cartOf expects s.mu to be held.
func (s *Store) cartOf(userID domain.UserID) []domain.CartItem {
	var out []domain.CartItem
	for _, it := range s.cart {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) CartItem(_ context.Context, userID domain.UserID, id domain.CartItemID) (domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.cart[id]
	if !ok || it.UserID != userID {
		return domain.CartItem{}, fmt.Errorf("cart item %d: %w", id, domain.ErrNotFound)
	}
	return it, nil
}

func (s *Store) CartItemByProduct(_ context.Context, userID domain.UserID, productID domain.ProductID) (domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.cart {
		if it.UserID == userID && it.ProductID == productID {
			return it, nil
		}
	}
	return domain.CartItem{}, fmt.Errorf("cart item for product %d: %w", productID, domain.ErrNotFound)
}

// Cart writes wait for a checkout holding the same user's cart, as a row
// update would in postgres.
func (s *Store) withCartLock(ctx context.Context, userID domain.UserID, fn func()) error {
	l, err := s.locks.acquire(ctx, cartKey(userID), s.lockTimeout)
	if err != nil {
		return err
	}
	defer l.release()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	return nil
}

func (s *Store) InsertCartItem(ctx context.Context, userID domain.UserID, productID domain.ProductID, qty int) (domain.CartItem, error) {
	var (
		it     domain.CartItem
		exists bool
	)
	err := s.withCartLock(ctx, userID, func() {
		for _, c := range s.cart {
			if c.UserID == userID && c.ProductID == productID {
				exists = true
				return
			}
		}
		s.nextCart++
		now := s.now()
		it = domain.CartItem{ID: domain.CartItemID(s.nextCart), UserID: userID, ProductID: productID, Quantity: qty, CreatedAt: now, UpdatedAt: now}
		s.cart[it.ID] = it
	})
	if err != nil {
		return domain.CartItem{}, err
	}
	if exists {
		return domain.CartItem{}, fmt.Errorf("insert cart item: %w", domain.ErrConcurrencyConflict)
	}
	return it, nil
}

func (s *Store) UpdateCartItemQuantity(ctx context.Context, userID domain.UserID, id domain.CartItemID, qty int) error {
	found := false
	err := s.withCartLock(ctx, userID, func() {
		it, ok := s.cart[id]
		if !ok || it.UserID != userID {
			return
		}
		found = true
		it.Quantity = qty
		it.UpdatedAt = s.now()
		s.cart[id] = it
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("update cart item %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteCartItem(ctx context.Context, userID domain.UserID, id domain.CartItemID) error {
	return s.withCartLock(ctx, userID, func() {
		if it, ok := s.cart[id]; ok && it.UserID == userID {
			delete(s.cart, id)
		}
	})
}

func (s *Store) Order(_ context.Context, userID domain.UserID, id domain.OrderID) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.UserID != userID {
		return domain.Order{}, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	o.Items = nil
	for _, it := range s.orderItems {
		if it.OrderID == id {
			it.ProductName = s.productName(it.ProductID)
			o.Items = append(o.Items, it)
		}
	}
	return o, nil
}

// productName expects s.mu to be held.
func (s *Store) productName(id domain.ProductID) string {
	if p, ok := s.products[id]; ok {
		return p.Name
	}
	return domain.UnknownProductName
}

func (s *Store) OrderIDByIdempotencyKey(_ context.Context, userID domain.UserID, key string) (domain.OrderID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idem[idemKey{userID, key}]
	if !ok {
		return 0, fmt.Errorf("idempotency key: %w", domain.ErrNotFound)
	}
	return id, nil
}

func (s *Store) SalesSummary(_ context.Context, r domain.DateRange) ([]domain.SalesSummaryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byProduct := make(map[domain.ProductID]*domain.SalesSummaryRow)
	for _, it := range s.orderItems {
		if !r.Contains(it.CreatedAt) {
			continue
		}
		row, ok := byProduct[it.ProductID]
		if !ok {
			row = &domain.SalesSummaryRow{ProductID: it.ProductID, Name: s.productName(it.ProductID), Total: decimal.Zero}
			byProduct[it.ProductID] = row
		}
		row.Quantity += it.Quantity
		row.Total = row.Total.Add(it.Subtotal)
	}
	out := make([]domain.SalesSummaryRow, 0, len(byProduct))
	for _, row := range byProduct {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	t := &memTx{
		s:     s,
		held:  make(map[string]*rowLock),
		stock: make(map[domain.ProductID]int),
	}
	defer t.releaseAll()

	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w: %w", ctxKind(err), err)
	}
	t.commit()
	return nil
}
