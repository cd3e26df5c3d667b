/*
store.go - Persistence contracts for users, operations and records

PURPOSE:
  Defines the interface between the domain logic and the database.
  Implementations: store/sqlstore (SQLite, PostgreSQL), store/memory (tests).

KEY INTERFACES:
  Store: Reads, user creation, soft delete, and WithTx
  Tx:    The writes that must happen atomically during record creation

RECORD CONTRACT:
  Records are inserted only through Tx.InsertRecord and the only update is
  DeactivateRecord. There is no hard delete.

ATOMICITY:
  WithTx runs fn inside a database transaction. If fn returns an error
  nothing fn wrote survives: neither the balance change nor the record.

NOT FOUND:
  Single-row getters return the matching ErrXxxNotFound sentinel, never
  (nil, nil).

SEE ALSO:
  - debit.go: Uses Tx
  - store/sqlstore/sqlstore.go: SQL implementation
  - store/memory/memory.go: In-memory implementation
*/
package ledger

import "context"

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// ListOperations returns the operation catalog ordered by id.
	ListOperations(ctx context.Context) ([]Operation, error)

	// GetOperation returns ErrOperationNotFound for unknown ids.
	GetOperation(ctx context.Context, id OperationID) (Operation, error)

	// CreateUser inserts a user and returns it with ID set.
	// Returns ErrUserExists if ExternalID is already linked.
	CreateUser(ctx context.Context, u User) (User, error)

	GetUserByExternalID(ctx context.Context, externalID string) (User, error)

	// GetUserByUsername returns the newest user (highest ID) with username.
	GetUserByUsername(ctx context.Context, username string) (User, error)

	// ListRecords returns one page of matching active records plus the
	// total count across all pages.
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error)

	// GetRecord returns a record regardless of its Active flag.
	GetRecord(ctx context.Context, id RecordID) (Record, error)

	// DeactivateRecord sets Active to false.
	DeactivateRecord(ctx context.Context, id RecordID) error

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// TRANSACTIONAL WRITES
// =============================================================================

type Tx interface {
	// LockUser reads the user and holds a write lock on the row until the
	// transaction ends.
	LockUser(ctx context.Context, id UserID) (User, error)

	// UpdateBalance writes u.Balance if the stored version still equals
	// u.Version. Returns ErrConcurrentModification otherwise.
	UpdateBalance(ctx context.Context, u User) error

	// InsertRecord persists r and returns it with ID set.
	InsertRecord(ctx context.Context, r Record) (Record, error)
}
