package sqlstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

const pgUniqueViolation = "23505"

type dialect struct {
	driver          string
	schema          string
	lockClause      string
	serializeWrites bool
	positional      bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite, "sqlite":
		return dialect{
			driver:          DriverSQLite,
			schema:          sqliteSchema,
			serializeWrites: true,
		}, nil
	case DriverPostgres, "postgres", "postgresql":
		return dialect{
			driver:     DriverPostgres,
			schema:     postgresSchema,
			lockClause: " FOR UPDATE",
			positional: true,
		}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (d dialect) dsn(dsn string) string {
	if d.driver != DriverSQLite || strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		status BOOLEAN NOT NULL DEFAULT TRUE,
		balance TEXT NOT NULL DEFAULT '5000',
		external_id TEXT NOT NULL UNIQUE,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		cost TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		is_arithmetic BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_id INTEGER NOT NULL REFERENCES operations(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		user_balance TEXT NOT NULL,
		operation_response TEXT NOT NULL,
		date TIMESTAMP NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_records_user_active ON records(user_id, active, id);
`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		status BOOLEAN NOT NULL DEFAULT TRUE,
		balance NUMERIC(14,2) NOT NULL DEFAULT 5000 CHECK (balance >= 0),
		external_id TEXT NOT NULL UNIQUE,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

	CREATE TABLE IF NOT EXISTS operations (
		id BIGSERIAL PRIMARY KEY,
		type TEXT NOT NULL,
		cost NUMERIC(14,2) NOT NULL CHECK (cost >= 0),
		symbol TEXT NOT NULL DEFAULT '',
		is_arithmetic BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS records (
		id BIGSERIAL PRIMARY KEY,
		operation_id BIGINT NOT NULL REFERENCES operations(id),
		user_id BIGINT NOT NULL REFERENCES users(id),
		amount NUMERIC(14,2) NOT NULL,
		user_balance NUMERIC(14,2) NOT NULL,
		operation_response TEXT NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_records_user_active ON records(user_id, active, id);
`
