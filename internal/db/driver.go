// Package db supplies the raw execution interface the engine runs on:
// statement execution, transactions, advisory locking, state-row storage
// and schema introspection, with one driver per supported backend.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"modelmigrate/internal/config"
	"modelmigrate/internal/schema"
)

// ErrLockTimeout is returned when the advisory lock cannot be acquired
// before the caller's deadline. No schema change has happened when this
// is returned.
var ErrLockTimeout = errors.New("advisory lock timeout")

// DriverError wraps a failed statement with the statement text, so a
// failed run can be reported with enough detail to re-run safely.
type DriverError struct {
	Statement string
	Err       error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver error executing %q: %v", e.Statement, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// AppliedRow is one row of the state table: the single source of truth
// for what has been executed against a given database.
type AppliedRow struct {
	MigrationID string
	AppliedAt   time.Time
	Checksum    string
}

// Tx is a transaction scoped to one migration record.
type Tx interface {
	Exec(ctx context.Context, stmt string, args ...any) error
	Commit() error
	Rollback() error
}

// Driver abstracts provider-specific behavior. Every method re-reads the
// database; drivers hold no schema or state cache.
type Driver interface {
	Provider() string
	Close() error

	Exec(ctx context.Context, stmt string, args ...any) error
	Begin(ctx context.Context) (Tx, error)

	// AcquireLock blocks until the named advisory lock is held or the
	// context deadline passes, in which case it returns ErrLockTimeout.
	AcquireLock(ctx context.Context, name string) error
	ReleaseLock(ctx context.Context, name string) error

	EnsureStateTable(ctx context.Context, table string) error
	AppliedRows(ctx context.Context, table string) ([]AppliedRow, error)
	InsertApplied(ctx context.Context, table string, row AppliedRow) error
	DeleteApplied(ctx context.Context, table, migrationID string) error

	// IntrospectSchema reads the live schema, used to bootstrap diffing
	// on a database that predates migration tracking.
	IntrospectSchema(ctx context.Context, schemaName string) (schema.Snapshot, error)
}

// Open builds a driver for the given target configuration.
func Open(cfg config.Target) (Driver, error) {
	switch strings.ToLower(cfg.Provider) {
	case "postgres":
		handle, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		handle.SetConnMaxIdleTime(5 * time.Minute)
		handle.SetMaxOpenConns(5)
		return &PostgresDriver{db: handle}, nil
	case "mysql":
		// Validate DSN early to provide actionable errors.
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		handle, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, err
		}
		handle.SetConnMaxIdleTime(5 * time.Minute)
		handle.SetMaxOpenConns(5)
		return &MySQLDriver{db: handle}, nil
	case "sqlite":
		handle, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, err
		}
		// One writer at a time; DDL under concurrency is not a sqlite
		// strength.
		handle.SetMaxOpenConns(1)
		return &SQLiteDriver{db: handle}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %s", cfg.Provider)
	}
}

// sqlTx adapts *sql.Tx to the Tx interface, wrapping failures in
// DriverError.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, stmt string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return &DriverError{Statement: stmt, Err: err}
	}
	return nil
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func execDirect(ctx context.Context, db *sql.DB, stmt string, args ...any) error {
	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		return &DriverError{Statement: stmt, Err: err}
	}
	return nil
}

func lockTimeoutErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return ErrLockTimeout
	}
	return err
}
