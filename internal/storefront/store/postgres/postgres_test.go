package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestLockProductReadsSnapshotForUpdate(t *testing.T) {
	mock := newMock(t)
	s := New(mock, 2*time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").WithArgs("2000ms").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FROM products WHERE id=\$1 FOR UPDATE`).WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "price", "stock_quantity"}).
			AddRow(domain.ProductID(2), "Desk Lamp", decimal.RequireFromString("29.50"), 8))
	mock.ExpectCommit()

	var snap domain.ProductSnapshot
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		snap, err = tx.LockProduct(context.Background(), 2)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Name != "Desk Lamp" || snap.StockQuantity != 8 || !snap.Price.Equal(decimal.RequireFromString("29.5")) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLockTimeoutBecomesConcurrencyConflict(t *testing.T) {
	mock := newMock(t)
	s := New(mock, 500*time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").WithArgs("500ms").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(7)).WillReturnError(&pgconn.PgError{Code: "55P03"})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.LockProduct(context.Background(), 7)
		return err
	})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Fatal("conflict should be retryable")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDecrementStockRefusesNegative(t *testing.T) {
	mock := newMock(t)
	s := New(mock, 0)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE products SET stock_quantity").WithArgs(int64(1), 3).
		WillReturnRows(pgxmock.NewRows([]string{"stock_quantity"}))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.DecrementStock(context.Background(), 1, 3)
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordIdempotencyKeyDuplicate(t *testing.T) {
	mock := newMock(t)
	s := New(mock, 0)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO checkout_idempotency").WithArgs(int64(5), "key-1", int64(9)).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.RecordIdempotencyKey(context.Background(), 5, "key-1", 9)
	})
	if !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
}

func TestUpdateCartItemQuantityScopedToUser(t *testing.T) {
	mock := newMock(t)
	s := New(mock, 0)

	mock.ExpectExec("UPDATE cart_items SET quantity").WithArgs(int64(1), int64(44), 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateCartItemQuantity(context.Background(), 1, 44, 2)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSalesSummaryGroupsByProduct(t *testing.T) {
	mock := newMock(t)
	s := New(mock, 0)

	day := domain.DayRange(time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC))
	mock.ExpectQuery("GROUP BY oi.product_id").WithArgs(day.From, day.To).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "name", "quantity", "total"}).
			AddRow(domain.ProductID(1), "Canvas Backpack", 3, decimal.RequireFromString("164.97")).
			AddRow(domain.ProductID(9), "Unknown", 1, decimal.RequireFromString("10.00")))

	rows, err := s.SalesSummary(context.Background(), day)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(rows) != 2 || rows[0].Quantity != 3 || rows[1].Name != domain.UnknownProductName {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
