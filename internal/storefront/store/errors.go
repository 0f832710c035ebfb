package store

import "errors"

var ErrDuplicateKey = errors.New("store: duplicate idempotency key")
