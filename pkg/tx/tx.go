// Package tx scopes a unit of work to one pgx transaction and classifies the
// storage errors that escape it.
package tx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrConflict = errors.New("tx: lock conflict")

const (
	codeUniqueViolation      = "23505"
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeQueryCanceled        = "57014"
)

type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Options struct {
	// LockTimeout bounds every row-lock wait inside the transaction.
	LockTimeout time.Duration
}

// Run begins a transaction, runs fn and commits when fn returns nil.
// Any error from fn rolls the transaction back and is returned unchanged;
// errors from begin/commit are passed through Classify.
func Run(ctx context.Context, db Beginner, opts Options, fn func(pgx.Tx) error) error {
	t, err := db.Begin(ctx)
	if err != nil {
		return Classify(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = t.Rollback(ctx) }()

	if opts.LockTimeout > 0 {
		_, err = t.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, LockTimeoutSetting(opts.LockTimeout))
		if err != nil {
			return Classify(fmt.Errorf("set lock_timeout: %w", err))
		}
	}

	if err := fn(t); err != nil {
		return err
	}
	if err := t.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func LockTimeoutSetting(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("%dms", ms)
}

// Classify wraps lock/serialization failures and context deadlines with
// ErrConflict so callers can offer a retry.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	if IsConflict(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure, codeQueryCanceled:
			return true
		}
	}
	return false
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	return false
}
