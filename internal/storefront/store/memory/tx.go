package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
)

// memTx stages every write; nothing is visible to other callers until
// commit, and a rollback simply drops the staged state.
type memTx struct {
	s *Store

	held map[string]*rowLock

	stock       map[domain.ProductID]int
	orders      []domain.Order
	items       []domain.OrderItem
	totals      map[domain.OrderID]decimal.Decimal
	clearedCart []domain.UserID
	keys        map[idemKey]domain.OrderID
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	l, err := t.s.locks.acquire(ctx, key, t.s.lockTimeout)
	if err != nil {
		return err
	}
	t.held[key] = l
	return nil
}

func (t *memTx) releaseAll() {
	for k, l := range t.held {
		l.release()
		delete(t.held, k)
	}
}

func (t *memTx) cartCleared(userID domain.UserID) bool {
	for _, u := range t.clearedCart {
		if u == userID {
			return true
		}
	}
	return false
}

func (t *memTx) LockCart(ctx context.Context, userID domain.UserID) ([]domain.CartItem, error) {
	if err := t.lock(ctx, cartKey(userID)); err != nil {
		return nil, err
	}
	if t.cartCleared(userID) {
		return nil, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.cartOf(userID), nil
}

func (t *memTx) LockProduct(ctx context.Context, id domain.ProductID) (domain.ProductSnapshot, error) {
	if err := t.lock(ctx, productKey(id)); err != nil {
		return domain.ProductSnapshot{}, err
	}
	t.s.mu.Lock()
	p, ok := t.s.products[id]
	t.s.mu.Unlock()
	if !ok {
		return domain.ProductSnapshot{}, fmt.Errorf("lock product %d: %w", id, domain.ErrNotFound)
	}
	if staged, ok := t.stock[id]; ok {
		p.StockQuantity = staged
	}
	return p.Snapshot(), nil
}

func (t *memTx) DecrementStock(ctx context.Context, id domain.ProductID, amount int) (int, error) {
	if _, ok := t.held[productKey(id)]; !ok {
		// postgres would take the row lock implicitly; mirror that.
		if _, err := t.LockProduct(ctx, id); err != nil {
			return 0, err
		}
	}
	current, ok := t.stock[id]
	if !ok {
		t.s.mu.Lock()
		p, found := t.s.products[id]
		t.s.mu.Unlock()
		if !found {
			return 0, fmt.Errorf("decrement stock %d: %w", id, domain.ErrNotFound)
		}
		current = p.StockQuantity
	}
	if current < amount {
		return 0, fmt.Errorf("decrement stock %d: %w", id, domain.ErrInsufficientStock)
	}
	t.stock[id] = current - amount
	return current - amount, nil
}

func (t *memTx) CreateOrder(_ context.Context, userID domain.UserID, status domain.OrderStatus, placedAt time.Time) (domain.Order, error) {
	t.s.mu.Lock()
	t.s.nextOrder++
	id := domain.OrderID(t.s.nextOrder)
	t.s.mu.Unlock()

	o := domain.Order{ID: id, UserID: userID, Status: status, Total: decimal.Zero, PlacedAt: placedAt}
	t.orders = append(t.orders, o)
	return o, nil
}

func (t *memTx) ownsOrder(id domain.OrderID) bool {
	for _, o := range t.orders {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (t *memTx) CreateOrderItem(_ context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	if !t.ownsOrder(item.OrderID) {
		return domain.OrderItem{}, fmt.Errorf("create order item: order %d: %w", item.OrderID, domain.ErrNotFound)
	}
	t.s.mu.Lock()
	t.s.nextItem++
	item.ID = domain.OrderItemID(t.s.nextItem)
	item.CreatedAt = t.s.now()
	t.s.mu.Unlock()

	t.items = append(t.items, item)
	return item, nil
}

func (t *memTx) SetOrderTotal(_ context.Context, id domain.OrderID, total decimal.Decimal) error {
	if !t.ownsOrder(id) {
		return fmt.Errorf("set order total: order %d: %w", id, domain.ErrNotFound)
	}
	if t.totals == nil {
		t.totals = make(map[domain.OrderID]decimal.Decimal)
	}
	t.totals[id] = total
	return nil
}

func (t *memTx) ClearCart(ctx context.Context, userID domain.UserID) error {
	if err := t.lock(ctx, cartKey(userID)); err != nil {
		return err
	}
	if !t.cartCleared(userID) {
		t.clearedCart = append(t.clearedCart, userID)
	}
	return nil
}

func (t *memTx) RecordIdempotencyKey(ctx context.Context, userID domain.UserID, key string, orderID domain.OrderID) error {
	if err := t.lock(ctx, idemLockKey(userID, key)); err != nil {
		return err
	}
	k := idemKey{userID, key}
	if _, ok := t.keys[k]; ok {
		return store.ErrDuplicateKey
	}
	t.s.mu.Lock()
	_, taken := t.s.idem[k]
	t.s.mu.Unlock()
	if taken {
		return store.ErrDuplicateKey
	}
	if t.keys == nil {
		t.keys = make(map[idemKey]domain.OrderID)
	}
	t.keys[k] = orderID
	return nil
}

func (t *memTx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, qty := range t.stock {
		if p, ok := s.products[id]; ok {
			p.StockQuantity = qty
			s.products[id] = p
		}
	}
	for _, o := range t.orders {
		if total, ok := t.totals[o.ID]; ok {
			o.Total = total
		}
		s.orders[o.ID] = o
	}
	s.orderItems = append(s.orderItems, t.items...)
	for _, u := range t.clearedCart {
		for id, it := range s.cart {
			if it.UserID == u {
				delete(s.cart, id)
			}
		}
	}
	for k, id := range t.keys {
		s.idem[k] = id
	}
}
