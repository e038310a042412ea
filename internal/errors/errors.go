package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrDuplicateEvent = errors.New("duplicate event")
	ErrStorageFailure = errors.New("storage failure")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeInvalidAmount ErrorType = "invalid_amount"
	ErrorTypeUnknownEvent  ErrorType = "unknown_event"
	ErrorTypeDuplicate     ErrorType = "duplicate_event"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeInternal      ErrorType = "internal"
)

// LedgerError is a structured error for ledger operations
type LedgerError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "apply_credit", "extend_license")
	Account   string // Account id if applicable
	Err       error  // Underlying error
	Timestamp time.Time
	Retryable bool
}

func (e *LedgerError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("%s failed for account %s: %v", e.Op, e.Account, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *LedgerError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrInvalidAmount:
		return e.Type == ErrorTypeInvalidAmount
	case ErrUnknownEvent:
		return e.Type == ErrorTypeUnknownEvent
	case ErrDuplicateEvent:
		return e.Type == ErrorTypeDuplicate
	case ErrStorageFailure:
		return e.Type == ErrorTypeStorage
	case ErrUnauthorized:
		return e.Type == ErrorTypeUnauthorized
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	}

	return errors.Is(e.Err, target)
}

// NewLedgerError creates a new LedgerError
func NewLedgerError(errorType ErrorType, op, account string, err error) *LedgerError {
	return &LedgerError{
		Type:      errorType,
		Op:        op,
		Account:   account,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: errorType == ErrorTypeStorage,
	}
}

// Helper functions

// WrapStorageError wraps a durable-write error with context.
// Storage errors are the only retryable kind: the mutation was aborted
// and the caller (or the payment provider) may safely re-deliver.
func WrapStorageError(op, account string, err error) error {
	return NewLedgerError(ErrorTypeStorage, op, account, err)
}

// WrapInvalidAmount wraps a non-positive amount rejection with context
func WrapInvalidAmount(op, account string, err error) error {
	return NewLedgerError(ErrorTypeInvalidAmount, op, account, err)
}

// WrapUnauthorized wraps an authorization failure with context
func WrapUnauthorized(op, account string, err error) error {
	return NewLedgerError(ErrorTypeUnauthorized, op, account, err)
}

// IsRetryableError checks if an error is safe to retry
func IsRetryableError(err error) bool {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Retryable
	}
	return errors.Is(err, ErrStorageFailure)
}
