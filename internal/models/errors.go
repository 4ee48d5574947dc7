package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart is returned before any transaction is opened.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrMissingSummary is returned when checkout is called without a summary.
	ErrMissingSummary = errors.New("order summary is required")
	// ErrAccountNotFound is returned by account lookups outside checkout.
	ErrAccountNotFound = errors.New("account not found")
	// ErrOrderNotFound is returned when an order id does not exist.
	ErrOrderNotFound = errors.New("order not found")
)

// InvalidQuantityError reports a line item whose quantity is not a positive
// integer.
type InvalidQuantityError struct {
	ItemRef  string
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for item %q", e.Quantity, e.ItemRef)
}

// NotFoundError reports an item reference that resolves to no product.
type NotFoundError struct {
	ItemRef string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item %q not found", e.ItemRef)
}

// InsufficientStockError is a business failure: it is never retried.
type InsufficientStockError struct {
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d", e.Name, e.Available, e.Requested)
}

// TxError is produced by persistence adapters. Retryable is decided once, at
// the adapter boundary, from the driver's error signal.
type TxError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *TxError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("%s: transient transaction error: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// IsRetryable implements the retryable interface checked by IsRetryable.
func (e *TxError) IsRetryable() bool { return e.Retryable }

// RetriesExhaustedError wraps the last transient failure after the attempt
// bound was reached.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("checkout failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

type retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err (or anything it wraps) is marked transient.
// Business failures never are.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// ErrorCode is a stable machine-readable classification of checkout errors.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeEmptyCart         ErrorCode = "EMPTY_CART"
	CodeMissingSummary    ErrorCode = "MISSING_SUMMARY"
	CodeInvalidQuantity   ErrorCode = "INVALID_QUANTITY"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	CodeTransientTx       ErrorCode = "TRANSIENT_TX"
	CodeRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"
)

// Code returns the classification of err. RetriesExhausted is checked first
// since it wraps a transient error.
func Code(err error) ErrorCode {
	var (
		exhausted *RetriesExhaustedError
		qty       *InvalidQuantityError
		notFound  *NotFoundError
		stock     *InsufficientStockError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &exhausted):
		return CodeRetriesExhausted
	case errors.Is(err, ErrEmptyCart):
		return CodeEmptyCart
	case errors.Is(err, ErrMissingSummary):
		return CodeMissingSummary
	case errors.As(err, &qty):
		return CodeInvalidQuantity
	case errors.As(err, &notFound), errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrAccountNotFound):
		return CodeNotFound
	case errors.As(err, &stock):
		return CodeInsufficientStock
	case IsRetryable(err):
		return CodeTransientTx
	}
	return CodeUnknown
}
