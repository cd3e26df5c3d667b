/*
Package sqlstore provides a database/sql implementation of ledger.Store.

PURPOSE:
  Persists users, the operation catalog and records. The same code runs on
  SQLite (development, tests) and PostgreSQL (production); the differences
  are isolated in dialect.go.

KEY TABLES:
  users:      balance (decimal), external_id (unique), version (optimistic lock)
  operations: static catalog, seeded on first start
  records:    append-only history; only `active` is ever updated

DRIVERS:
  sqlite3  github.com/mattn/go-sqlite3
  pgx      github.com/jackc/pgx/v5/stdlib

CONCURRENCY:
  PostgreSQL: LockUser issues SELECT ... FOR UPDATE, so concurrent debits
  for one user queue on the row lock.
  SQLite: no row locks. Write transactions are serialized with a mutex and
  BEGIN IMMEDIATE, and the pool is pinned to one connection (which also keeps
  ":memory:" databases alive).
  Both: UpdateBalance is conditional on the version read under lock.

USAGE:
  store, err := sqlstore.Open(sqlstore.DriverSQLite, "./data/calculator.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on Open(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/warp/calculator-engine/ledger"
)

// Store implements ledger.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex // write transactions, when the dialect cannot lock rows
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects with the given driver and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, d.dsn(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.serializeWrites {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, dialect: d}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// New opens a SQLite store at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(s.dialect.schema)
	return err
}

// =============================================================================
// OPERATIONS
// =============================================================================

const operationColumns = `o.id, o.type, o.cost, o.symbol, o.is_arithmetic`

// SeedOperations inserts ops when the catalog is empty and returns the catalog.
func (s *Store) SeedOperations(ctx context.Context, ops []ledger.Operation) ([]ledger.Operation, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}

	if count == 0 {
		query := s.dialect.rebind(`
			INSERT INTO operations (type, cost, symbol, is_arithmetic)
			VALUES (?, ?, ?, ?)
		`)
		for _, op := range ops {
			if _, err := s.db.ExecContext(ctx, query, op.Type, op.Cost, op.Symbol, op.IsArithmetic); err != nil {
				return nil, fmt.Errorf("failed to seed operation %q: %w", op.Type, err)
			}
		}
	}

	return s.ListOperations(ctx)
}

// ListOperations returns the catalog ordered by id.
func (s *Store) ListOperations(ctx context.Context) ([]ledger.Operation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+operationColumns+" FROM operations o ORDER BY o.id")
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	ops := []ledger.Operation{}
	for rows.Next() {
		var op ledger.Operation
		if err := rows.Scan(&op.ID, &op.Type, &op.Cost, &op.Symbol, &op.IsArithmetic); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetOperation retrieves an operation by id.
func (s *Store) GetOperation(ctx context.Context, id ledger.OperationID) (ledger.Operation, error) {
	var op ledger.Operation
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT "+operationColumns+" FROM operations o WHERE o.id = ?"),
		id,
	).Scan(&op.ID, &op.Type, &op.Cost, &op.Symbol, &op.IsArithmetic)

	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Operation{}, ledger.ErrOperationNotFound
	}
	if err != nil {
		return ledger.Operation{}, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `u.id, u.username, u.status, u.balance, u.external_id, u.version, u.created_at`

// CreateUser inserts a user. Balance defaults to ledger.DefaultBalance when zero.
func (s *Store) CreateUser(ctx context.Context, u ledger.User) (ledger.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	query := s.dialect.rebind(`
		INSERT INTO users (username, status, balance, external_id, version, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		RETURNING id
	`)
	err := s.db.QueryRowContext(ctx, query,
		u.Username, u.Status, u.Balance, u.ExternalID, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return ledger.User{}, ledger.ErrUserExists
		}
		return ledger.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	u.Version = 0
	return u, nil
}

func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (ledger.User, error) {
	return s.getUser(ctx, s.db, "u.external_id = ?", externalID)
}

// GetUserByUsername returns the newest account for username. Usernames are
// not unique: a provider account that was deleted and signed up again gets
// a second ledger row.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (ledger.User, error) {
	return s.getUser(ctx, s.db, whereNewestUsername, username)
}

const whereNewestUsername = "u.username = ? ORDER BY u.id DESC LIMIT 1"

func (d dialect) selectUser(where string) string {
	return d.rebind("SELECT " + userColumns + " FROM users u WHERE " + where)
}

func (s *Store) getUser(ctx context.Context, q querier, where string, arg any) (ledger.User, error) {
	query := s.dialect.selectUser(where)
	u, err := scanUser(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	if err != nil {
		return ledger.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (ledger.User, error) {
	var u ledger.User
	err := row.Scan(&u.ID, &u.Username, &u.Status, &u.Balance, &u.ExternalID, &u.Version, &u.CreatedAt)
	return u, err
}

// =============================================================================
// RECORDS
// =============================================================================

const recordSelect = `
	SELECT r.id, r.user_id, r.operation_id, r.amount, r.user_balance,
	       r.operation_response, r.date, r.active,
	       ` + operationColumns + `,
	       ` + userColumns + `
	FROM records r
	JOIN operations o ON o.id = r.operation_id
	JOIN users u ON u.id = r.user_id
`

// ListRecords returns one page of the caller's active records and the total.
func (s *Store) ListRecords(ctx context.Context, filter ledger.RecordFilter) ([]ledger.Record, int, error) {
	where := `
		WHERE u.external_id = ? AND r.active = ?
		  AND LOWER(o.type) LIKE ? ESCAPE '\'
	`
	args := []any{filter.ExternalID, true, likePattern(filter.OperationType)}

	var total int
	countQuery := s.dialect.rebind(`
		SELECT COUNT(*)
		FROM records r
		JOIN operations o ON o.id = r.operation_id
		JOIN users u ON u.id = r.user_id
	` + where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	pageQuery := s.dialect.rebind(recordSelect + where + " ORDER BY r.id ASC LIMIT ? OFFSET ?")
	rows, err := s.db.QueryContext(ctx, pageQuery, append(args, filter.PerPage, filter.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []ledger.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, r)
	}
	return records, total, rows.Err()
}

// GetRecord returns a record whether or not it is active.
func (s *Store) GetRecord(ctx context.Context, id ledger.RecordID) (ledger.Record, error) {
	return s.getRecord(ctx, s.db, id)
}

func (s *Store) getRecord(ctx context.Context, q querier, id ledger.RecordID) (ledger.Record, error) {
	r, err := scanRecord(q.QueryRowContext(ctx, s.dialect.rebind(recordSelect+" WHERE r.id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, ledger.ErrRecordNotFound
	}
	if err != nil {
		return ledger.Record{}, err
	}
	return r, nil
}

// DeactivateRecord soft-deletes a record. The row is kept.
func (s *Store) DeactivateRecord(ctx context.Context, id ledger.RecordID) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind("UPDATE records SET active = ? WHERE id = ?"), false, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate record: %w", err)
	}
	if n == 0 {
		return ledger.ErrRecordNotFound
	}
	return nil
}

func scanRecord(row rowScanner) (ledger.Record, error) {
	var (
		r  ledger.Record
		op ledger.Operation
		u  ledger.User
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.OperationID, &r.Amount, &r.UserBalance,
		&r.OperationResponse, &r.Date, &r.Active,
		&op.ID, &op.Type, &op.Cost, &op.Symbol, &op.IsArithmetic,
		&u.ID, &u.Username, &u.Status, &u.Balance, &u.ExternalID, &u.Version, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan record: %w", err)
	}
	r.Operation = &op
	r.User = &u
	return r, nil
}

// likePattern builds a case-insensitive "contains" pattern with LIKE
// metacharacters in s escaped.
func likePattern(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(s))
	return "%" + escaped + "%"
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.Tx interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if s.dialect.serializeWrites {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) LockUser(ctx context.Context, id ledger.UserID) (ledger.User, error) {
	return ts.parent.getUser(ctx, ts.tx, "u.id = ?"+ts.parent.dialect.lockClause, id)
}

func (ts *txStore) UpdateBalance(ctx context.Context, u ledger.User) error {
	res, err := ts.tx.ExecContext(ctx,
		ts.parent.dialect.rebind("UPDATE users SET balance = ?, version = version + 1 WHERE id = ? AND version = ?"),
		u.Balance, u.ID, u.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n == 0 {
		return ledger.ErrConcurrentModification
	}
	return nil
}

func (ts *txStore) InsertRecord(ctx context.Context, r ledger.Record) (ledger.Record, error) {
	query := ts.parent.dialect.rebind(`
		INSERT INTO records
		(operation_id, user_id, amount, user_balance, operation_response, date, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	var id ledger.RecordID
	err := ts.tx.QueryRowContext(ctx, query,
		r.OperationID, r.UserID, r.Amount, r.UserBalance, r.OperationResponse, r.Date.UTC(), r.Active,
	).Scan(&id)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("failed to insert record: %w", err)
	}

	return ts.parent.getRecord(ctx, ts.tx, id)
}

var _ ledger.Store = (*Store)(nil)

