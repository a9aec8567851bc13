package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"modelmigrate/internal/schema"
)

// sqliteLocks serializes runs per lock name within this process. SQLite
// has no advisory-lock primitive; cross-process exclusion already comes
// from the database file's write lock.
var sqliteLocks sync.Map

// SQLiteDriver runs against a SQLite database file through the pure-Go
// modernc driver.
type SQLiteDriver struct {
	db   *sql.DB
	held []string
}

func (s *SQLiteDriver) Provider() string { return "sqlite" }

func (s *SQLiteDriver) Close() error { return s.db.Close() }

func (s *SQLiteDriver) Exec(ctx context.Context, stmt string, args ...any) error {
	return execDirect(ctx, s.db, stmt, args...)
}

func (s *SQLiteDriver) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

func (s *SQLiteDriver) AcquireLock(ctx context.Context, name string) error {
	muAny, _ := sqliteLocks.LoadOrStore(name, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)

	done := make(chan struct{})
	go func() {
		mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		s.held = append(s.held, name)
		return nil
	case <-ctx.Done():
		// Hand the lock straight back once the stray goroutine gets it.
		go func() {
			<-done
			mu.Unlock()
		}()
		return ErrLockTimeout
	}
}

func (s *SQLiteDriver) ReleaseLock(ctx context.Context, name string) error {
	for i, held := range s.held {
		if held == name {
			s.held = append(s.held[:i], s.held[i+1:]...)
			muAny, ok := sqliteLocks.Load(name)
			if ok {
				muAny.(*sync.Mutex).Unlock()
			}
			return nil
		}
	}
	return fmt.Errorf("lock %s is not held", name)
}

func (s *SQLiteDriver) EnsureStateTable(ctx context.Context, table string) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	migration_id text PRIMARY KEY,
	applied_at text NOT NULL,
	checksum text NOT NULL
)`, quoteIdent(table))
	return execDirect(ctx, s.db, stmt)
}

func (s *SQLiteDriver) AppliedRows(ctx context.Context, table string) ([]AppliedRow, error) {
	stmt := fmt.Sprintf(`SELECT migration_id, applied_at, checksum FROM %s ORDER BY migration_id`, quoteIdent(table))
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, &DriverError{Statement: stmt, Err: err}
	}
	defer rows.Close()

	var out []AppliedRow
	for rows.Next() {
		var r AppliedRow
		if err := rows.Scan(&r.MigrationID, &r.AppliedAt, &r.Checksum); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteDriver) InsertApplied(ctx context.Context, table string, row AppliedRow) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (migration_id, applied_at, checksum) VALUES (?,?,?)`, quoteIdent(table))
	return execDirect(ctx, s.db, stmt, row.MigrationID, row.AppliedAt, row.Checksum)
}

func (s *SQLiteDriver) DeleteApplied(ctx context.Context, table, migrationID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE migration_id=?`, quoteIdent(table))
	return execDirect(ctx, s.db, stmt, migrationID)
}

func (s *SQLiteDriver) IntrospectSchema(ctx context.Context, _ string) (schema.Snapshot, error) {
	snap := schema.NewSnapshot()

	tablesRows, err := s.db.QueryContext(ctx, `
SELECT name FROM sqlite_master
WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return snap, err
	}
	defer tablesRows.Close()

	var tables []string
	for tablesRows.Next() {
		var name string
		if err := tablesRows.Scan(&name); err != nil {
			return snap, err
		}
		tables = append(tables, name)
	}
	if err := tablesRows.Err(); err != nil {
		return snap, err
	}

	for _, tbl := range tables {
		e := schema.Entity{Name: tbl}
		cols, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(tbl)))
		if err != nil {
			return snap, err
		}
		for cols.Next() {
			var cid, notNull, pk int
			var name, colType string
			var def sql.NullString
			if err := cols.Scan(&cid, &name, &colType, &notNull, &def, &pk); err != nil {
				cols.Close()
				return snap, err
			}
			f := schema.Field{
				Name:     name,
				Type:     sqliteLogicalType(colType),
				Nullable: notNull == 0,
			}
			if pk == 1 && f.Type == schema.TypeInteger {
				f.Type = schema.TypeAuto
				f.Nullable = false
			} else if def.Valid {
				v := def.String
				f.Default = &v
			}
			e.Fields = append(e.Fields, f)
		}
		if err := cols.Err(); err != nil {
			cols.Close()
			return snap, err
		}
		cols.Close()
		snap.Entities[tbl] = e
	}
	return snap, nil
}

func sqliteLogicalType(colType string) schema.LogicalType {
	switch strings.ToLower(colType) {
	case "integer", "int", "bigint":
		return schema.TypeInteger
	case "real", "double", "float":
		return schema.TypeFloat
	case "blob":
		return schema.TypeBinary
	default:
		return schema.TypeString
	}
}
