package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
)

type rowLock struct {
	ch chan struct{}
}

func (l *rowLock) release() { <-l.ch }

type lockTable struct {
	mu   sync.Mutex
	rows map[string]*rowLock
}

func newLockTable() *lockTable {
	return &lockTable{rows: make(map[string]*rowLock)}
}

func (t *lockTable) get(key string) *rowLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.rows[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		t.rows[key] = l
	}
	return l
}

// acquire blocks until the row is free, the wait exceeds timeout, or ctx is
// done. A timeout of zero waits on ctx alone.
func (t *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) (*rowLock, error) {
	l := t.get(key)
	select {
	case l.ch <- struct{}{}:
		return l, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case l.ch <- struct{}{}:
		return l, nil
	case <-expired:
		return nil, fmt.Errorf("lock %s: %w: lock wait exceeded %s", key, domain.ErrConcurrencyConflict, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %s: %w: %w", key, ctxKind(ctx.Err()), ctx.Err())
	}
}

// ctxKind matches the postgres store: only a deadline is worth a retry.
func ctxKind(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrConcurrencyConflict
	}
	return domain.ErrPersistence
}

func cartKey(id domain.UserID) string    { return "cart:" + strconv.FormatInt(int64(id), 10) }
func productKey(id domain.ProductID) string { return "product:" + strconv.FormatInt(int64(id), 10) }
func idemLockKey(id domain.UserID, key string) string {
	return "idem:" + strconv.FormatInt(int64(id), 10) + ":" + key
}
