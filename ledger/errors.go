/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All ledger error types in one place for consistency and discoverability.
  Stores return these sentinels; the HTTP layer maps them to status codes.

ERROR CATEGORIES:
  1. Not found - operation, user, record
  2. Client errors - insufficient balance, bad pagination
  3. Concurrency - optimistic check lost a race (retryable)

USAGE:
    if errors.Is(err, ledger.ErrInsufficientBalance) {
        var ib *ledger.InsufficientBalanceError
        errors.As(err, &ib) // details
    }

SEE ALSO:
  - debit.go: Produces InsufficientBalanceError
  - store.go: Contract for which sentinels stores return
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOperationNotFound is returned when an operation id is unknown.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrUserNotFound is returned when no user matches the principal.
	ErrUserNotFound = errors.New("user not found")

	// ErrRecordNotFound is returned when a record id is unknown to the caller.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInsufficientBalance is returned when the cost exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance for the operation")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidPagination is returned for page or per_page below one.
	ErrInvalidPagination = errors.New("page and per_page must be positive integers")

	// ErrUserExists is returned when the external identity is already linked.
	ErrUserExists = errors.New("user already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for the operation: available %s, requested %s",
		FormatMoney(e.Available), FormatMoney(e.Requested))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Shortfall is how much more the user would need.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidPagination) ||
		IsNotFound(err)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOperationNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}
