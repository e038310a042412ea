package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestLedgerErrorIs(t *testing.T) {
	tests := []struct {
		name      string
		errorType ErrorType
		target    error
		expected  bool
	}{
		{"invalid amount matches", ErrorTypeInvalidAmount, ErrInvalidAmount, true},
		{"invalid amount does not match storage", ErrorTypeInvalidAmount, ErrStorageFailure, false},
		{"duplicate matches", ErrorTypeDuplicate, ErrDuplicateEvent, true},
		{"storage matches", ErrorTypeStorage, ErrStorageFailure, true},
		{"unauthorized matches", ErrorTypeUnauthorized, ErrUnauthorized, true},
		{"unknown event matches", ErrorTypeUnknownEvent, ErrUnknownEvent, true},
		{"not found matches", ErrorTypeNotFound, ErrNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewLedgerError(tt.errorType, "apply_credit", "42", errors.New("boom"))
			if got := errors.Is(err, tt.target); got != tt.expected {
				t.Errorf("errors.Is = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLedgerErrorUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := WrapStorageError("save", "42", inner)

	if !errors.Is(err, inner) {
		t.Error("expected wrapped error to match inner error")
	}

	var ledgerErr *LedgerError
	if !errors.As(err, &ledgerErr) {
		t.Fatal("expected *LedgerError")
	}
	if ledgerErr.Op != "save" || ledgerErr.Account != "42" {
		t.Errorf("unexpected context: op=%q account=%q", ledgerErr.Op, ledgerErr.Account)
	}
}

func TestLedgerErrorMessage(t *testing.T) {
	err := NewLedgerError(ErrorTypeInvalidAmount, "apply_credit", "42", ErrInvalidAmount)
	want := "apply_credit failed for account 42: invalid amount"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = NewLedgerError(ErrorTypeStorage, "save", "", errors.New("disk full"))
	want = "save failed: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(WrapStorageError("save", "42", errors.New("disk full"))) {
		t.Error("storage errors should be retryable")
	}
	if IsRetryableError(WrapInvalidAmount("apply_credit", "42", ErrInvalidAmount)) {
		t.Error("validation errors should not be retryable")
	}
	if IsRetryableError(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryableError(fmt.Errorf("commit: %w", ErrStorageFailure)) {
		t.Error("wrapped storage sentinel should be retryable")
	}
}
