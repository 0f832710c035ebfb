// Package inventory is the only writer of product stock during checkout.
//
// A Ledger lives for one transaction. Product rows must be locked in
// ascending id order; locks are released when the transaction ends.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
)

var (
	// ErrLockOrder means a caller tried to lock a product out of canonical order.
	ErrLockOrder = errors.New("inventory: product locks must be acquired in ascending id order")
	// ErrNotLocked means Decrement was called before LockAndRead.
	ErrNotLocked = errors.New("inventory: product not locked in this transaction")
)

type Ledger struct {
	tx     store.Tx
	held   map[domain.ProductID]domain.ProductSnapshot
	last   domain.ProductID
	locked bool
}

func NewLedger(tx store.Tx) *Ledger {
	return &Ledger{tx: tx, held: make(map[domain.ProductID]domain.ProductSnapshot)}
}

// LockAndRead locks the product row and returns what is under the lock.
// Re-reading an already-held product returns the current held snapshot.
func (l *Ledger) LockAndRead(ctx context.Context, id domain.ProductID) (domain.ProductSnapshot, error) {
	if snap, ok := l.held[id]; ok {
		return snap, nil
	}
	if l.locked && id <= l.last {
		return domain.ProductSnapshot{}, fmt.Errorf("lock product %d after %d: %w: %w", id, l.last, domain.ErrPersistence, ErrLockOrder)
	}
	snap, err := l.tx.LockProduct(ctx, id)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}
	l.held[id] = snap
	l.last = id
	l.locked = true
	return snap, nil
}

// LockAll locks every distinct id in ascending order.
func (l *Ledger) LockAll(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]domain.ProductSnapshot, error) {
	sorted := SortedUnique(ids)
	out := make(map[domain.ProductID]domain.ProductSnapshot, len(sorted))
	for _, id := range sorted {
		snap, err := l.LockAndRead(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = snap
	}
	return out, nil
}

// Decrement removes amount units from a locked product and returns the
// remaining stock.
func (l *Ledger) Decrement(ctx context.Context, id domain.ProductID, amount int) (int, error) {
	snap, ok := l.held[id]
	if !ok {
		return 0, fmt.Errorf("decrement product %d: %w: %w", id, domain.ErrPersistence, ErrNotLocked)
	}
	if amount <= 0 {
		return 0, domain.NewValidationError("quantity", "Quantity must be at least 1.")
	}
	if amount > snap.StockQuantity {
		return 0, &domain.StockError{
			ProductID:   id,
			ProductName: snap.Name,
			Requested:   amount,
			Available:   snap.StockQuantity,
		}
	}
	remaining, err := l.tx.DecrementStock(ctx, id, amount)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			return 0, &domain.StockError{ProductID: id, ProductName: snap.Name, Requested: amount, Available: snap.StockQuantity}
		}
		return 0, err
	}
	snap.StockQuantity = remaining
	l.held[id] = snap
	return remaining, nil
}

// Held returns the snapshot currently held for id.
func (l *Ledger) Held(id domain.ProductID) (domain.ProductSnapshot, bool) {
	snap, ok := l.held[id]
	return snap, ok
}

// SortedUnique returns ids deduplicated in ascending order.
func SortedUnique(ids []domain.ProductID) []domain.ProductID {
	seen := make(map[domain.ProductID]struct{}, len(ids))
	out := make([]domain.ProductID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
