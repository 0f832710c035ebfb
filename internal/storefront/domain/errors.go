package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrEmptyCart           = errors.New("your cart is empty")
	ErrConcurrencyConflict = errors.New("concurrent checkout conflict, please retry")
	ErrPersistence         = errors.New("storage failure")
)

type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

type StockError struct {
	ProductID   ProductID
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	if e.ProductName == "" {
		return "Requested quantity exceeds available stock."
	}
	return fmt.Sprintf("Insufficient stock for %s.", e.ProductName)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// IsRetryable reports whether resubmitting the same request may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
