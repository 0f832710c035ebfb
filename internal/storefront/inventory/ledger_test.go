package inventory

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store/memory"
)

// recordingTx wraps a real tx and records the lock order.
type recordingTx struct {
	store.Tx
	order []domain.ProductID
}

func (r *recordingTx) LockProduct(ctx context.Context, id domain.ProductID) (domain.ProductSnapshot, error) {
	r.order = append(r.order, id)
	return r.Tx.LockProduct(ctx, id)
}

func seed(t *testing.T) (*memory.Store, []domain.Product) {
	t.Helper()
	s := memory.New(time.Second)
	var ps []domain.Product
	for _, stock := range []int{10, 8, 5} {
		ps = append(ps, s.AddProduct("P", decimal.RequireFromString("1.00"), stock))
	}
	return s, ps
}

func TestLockAllSortsAndDedupes(t *testing.T) {
	ctx := context.Background()
	s, ps := seed(t)

	var got []domain.ProductID
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		rec := &recordingTx{Tx: tx}
		snaps, err := NewLedger(rec).LockAll(ctx, []domain.ProductID{ps[2].ID, ps[0].ID, ps[2].ID, ps[1].ID})
		if err != nil {
			return err
		}
		if len(snaps) != 3 {
			t.Fatalf("snapshots: %v", snaps)
		}
		got = rec.order
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	want := []domain.ProductID{ps[0].ID, ps[1].ID, ps[2].ID}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("lock order = %v, want %v", got, want)
	}
}

func TestLockAndReadRejectsDescendingOrder(t *testing.T) {
	ctx := context.Background()
	s, ps := seed(t)

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		l := NewLedger(tx)
		if _, err := l.LockAndRead(ctx, ps[1].ID); err != nil {
			return err
		}
		// re-reading a held lock is allowed
		if _, err := l.LockAndRead(ctx, ps[1].ID); err != nil {
			return err
		}
		_, err := l.LockAndRead(ctx, ps[0].ID)
		return err
	})
	if !errors.Is(err, ErrLockOrder) {
		t.Fatalf("expected ErrLockOrder, got %v", err)
	}
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("lock order violation should classify as persistence, got %v", err)
	}
}

func TestDecrementRequiresLock(t *testing.T) {
	ctx := context.Background()
	s, ps := seed(t)

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		_, err := NewLedger(tx).Decrement(ctx, ps[0].ID, 1)
		return err
	})
	if !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}
}

func TestDecrementSeesReducedStock(t *testing.T) {
	ctx := context.Background()
	s, ps := seed(t)
	id := ps[2].ID // stock 5

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		l := NewLedger(tx)
		if _, err := l.LockAndRead(ctx, id); err != nil {
			return err
		}
		remaining, err := l.Decrement(ctx, id, 3)
		if err != nil {
			return err
		}
		if remaining != 2 {
			t.Fatalf("remaining = %d", remaining)
		}
		_, err = l.Decrement(ctx, id, 3)
		return err
	})
	var se *domain.StockError
	if !errors.As(err, &se) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if se.Available != 2 || se.Requested != 3 {
		t.Fatalf("stock error: %+v", se)
	}

	p, _ := s.Product(ctx, id)
	if p.StockQuantity != 5 {
		t.Fatalf("rolled back stock = %d", p.StockQuantity)
	}
}

func TestDecrementRejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	s, ps := seed(t)

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		l := NewLedger(tx)
		if _, err := l.LockAndRead(ctx, ps[0].ID); err != nil {
			return err
		}
		_, err := l.Decrement(ctx, ps[0].ID, 0)
		return err
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSortedUnique(t *testing.T) {
	got := SortedUnique([]domain.ProductID{3, 1, 3, 2, 1})
	if !reflect.DeepEqual(got, []domain.ProductID{1, 2, 3}) {
		t.Fatalf("got %v", got)
	}
}
