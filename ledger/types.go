/*
Package ledger provides the calculator's domain model and the balance ledger.

PURPOSE:
  Users hold a monetary balance. Every priced operation a user performs is
  recorded as a Record that captures what was charged and what the balance
  was right after the charge. This package holds those types, the store
  contracts the persistence layer implements, and the debit logic that ties
  the two together inside one transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - User:      Account with a balance and an external identity reference
  - Operation: Priced, named arithmetic capability (static reference data)
  - Record:    Append-only history entry with balance snapshot, soft-deletable

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64
  2. Snapshots: Record.Amount and Record.UserBalance are frozen at creation
  3. Soft delete: Records flip Active to false, rows are never removed
  4. Type Safety: Distinct ID types prevent mixing user/operation/record IDs

SEE ALSO:
  - errors.go: Sentinel and structured errors
  - store.go: Persistence contracts
  - debit.go: Balance Ledger (check-then-debit)
  - pricer.go: Operation Pricer
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64
type OperationID int64
type RecordID int64

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of fractional digits money is rendered with.
const MoneyPlaces = 2

// DefaultBalance is what a freshly signed-up user starts with.
var DefaultBalance = decimal.NewFromInt(5000)

// FormatMoney renders an amount with a fixed number of fractional digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// =============================================================================
// USER
// =============================================================================

// User is an account that pays for operations.
//
// Balance is only ever changed by Debit. Version increases on every balance
// write and backs the optimistic check in Tx.UpdateBalance.
type User struct {
	ID         UserID
	Username   string
	Status     bool
	Balance    decimal.Decimal
	ExternalID string // subject issued by the identity provider
	Version    int64
	CreatedAt  time.Time
}

// =============================================================================
// OPERATION
// =============================================================================

// Operator symbols understood by the calculator engine.
const (
	SymbolAdd        = "+"
	SymbolSubtract   = "-"
	SymbolMultiply   = "*"
	SymbolDivide     = "/"
	SymbolSquareRoot = "√"
)

// Operation is a priced capability. Static reference data.
type Operation struct {
	ID           OperationID
	Type         string
	Cost         decimal.Decimal
	Symbol       string
	IsArithmetic bool
}

// DefaultOperations is the catalog seeded into an empty store.
func DefaultOperations() []Operation {
	return []Operation{
		{Type: "addition", Cost: decimal.RequireFromString("5.00"), Symbol: SymbolAdd, IsArithmetic: true},
		{Type: "subtraction", Cost: decimal.RequireFromString("5.00"), Symbol: SymbolSubtract, IsArithmetic: true},
		{Type: "multiplication", Cost: decimal.RequireFromString("10.00"), Symbol: SymbolMultiply, IsArithmetic: true},
		{Type: "division", Cost: decimal.RequireFromString("10.00"), Symbol: SymbolDivide, IsArithmetic: true},
		{Type: "square_root", Cost: decimal.RequireFromString("15.00"), Symbol: SymbolSquareRoot, IsArithmetic: true},
		{Type: "random_string", Cost: decimal.RequireFromString("20.00"), Symbol: "", IsArithmetic: false},
	}
}

// =============================================================================
// RECORD
// =============================================================================

// Record is one charged operation in a user's history.
//
// INVARIANTS:
//   - Amount is the operation cost at creation time, not a live reference.
//   - UserBalance is the user's balance immediately after this debit.
//   - The only permitted mutation is Active: true -> false.
type Record struct {
	ID                RecordID
	UserID            UserID
	OperationID       OperationID
	Amount            decimal.Decimal
	UserBalance       decimal.Decimal
	OperationResponse string
	Date              time.Time
	Active            bool

	// Populated by reads that join the owning rows.
	Operation *Operation
	User      *User
}

// =============================================================================
// LISTING
// =============================================================================

const (
	DefaultPage    = 1
	DefaultPerPage = 10
)

// RecordFilter selects a page of a user's active records.
type RecordFilter struct {
	ExternalID    string
	OperationType string // case-insensitive substring; empty matches all
	Page          int    // 1-indexed
	PerPage       int
}

// Offset is the number of matching rows skipped before the page starts.
func (f RecordFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// Validate rejects pages and page sizes below one.
func (f RecordFilter) Validate() error {
	if f.Page < 1 || f.PerPage < 1 {
		return ErrInvalidPagination
	}
	return nil
}
