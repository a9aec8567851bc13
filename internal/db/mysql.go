package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"modelmigrate/internal/schema"
)

// MySQLDriver runs against MySQL/MariaDB.
type MySQLDriver struct {
	db *sql.DB
}

func (m *MySQLDriver) Provider() string { return "mysql" }

func (m *MySQLDriver) Close() error { return m.db.Close() }

func (m *MySQLDriver) Exec(ctx context.Context, stmt string, args ...any) error {
	return execDirect(ctx, m.db, stmt, args...)
}

func (m *MySQLDriver) Begin(ctx context.Context) (Tx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

func (m *MySQLDriver) AcquireLock(ctx context.Context, name string) error {
	timeout := int64(60)
	if deadline, ok := ctx.Deadline(); ok {
		timeout = int64(time.Until(deadline).Seconds())
		if timeout < 1 {
			return ErrLockTimeout
		}
	}
	var got int
	if err := m.db.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, timeout).Scan(&got); err != nil {
		return lockTimeoutErr(ctx, fmt.Errorf("acquire lock: %w", err))
	}
	if got != 1 {
		return ErrLockTimeout
	}
	return nil
}

func (m *MySQLDriver) ReleaseLock(ctx context.Context, name string) error {
	if _, err := m.db.ExecContext(ctx, `SELECT RELEASE_LOCK(?)`, name); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (m *MySQLDriver) EnsureStateTable(ctx context.Context, table string) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	migration_id varchar(255) PRIMARY KEY,
	applied_at datetime NOT NULL,
	checksum text NOT NULL
) ENGINE=InnoDB`, backquote(table))
	return execDirect(ctx, m.db, stmt)
}

func (m *MySQLDriver) AppliedRows(ctx context.Context, table string) ([]AppliedRow, error) {
	stmt := fmt.Sprintf(`SELECT migration_id, applied_at, checksum FROM %s ORDER BY migration_id`, backquote(table))
	rows, err := m.db.QueryContext(ctx, stmt)
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

func (m *MySQLDriver) InsertApplied(ctx context.Context, table string, row AppliedRow) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (migration_id, applied_at, checksum) VALUES (?,?,?)`, backquote(table))
	return execDirect(ctx, m.db, stmt, row.MigrationID, row.AppliedAt, row.Checksum)
}

func (m *MySQLDriver) DeleteApplied(ctx context.Context, table, migrationID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE migration_id=?`, backquote(table))
	return execDirect(ctx, m.db, stmt, migrationID)
}

func (m *MySQLDriver) IntrospectSchema(ctx context.Context, schemaName string) (schema.Snapshot, error) {
	snap := schema.NewSnapshot()
	name := strings.TrimSpace(schemaName)
	if name == "" {
		if err := m.db.QueryRowContext(ctx, `SELECT DATABASE()`).Scan(&name); err != nil {
			return snap, err
		}
	}

	tablesRows, err := m.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema=? AND table_type='BASE TABLE'`, name)
	if err != nil {
		return snap, err
	}
	defer tablesRows.Close()

	for tablesRows.Next() {
		var tbl string
		if err := tablesRows.Scan(&tbl); err != nil {
			return snap, err
		}
		snap.Entities[tbl] = schema.Entity{Name: tbl}
	}
	if err := tablesRows.Err(); err != nil {
		return snap, err
	}

	colsRows, err := m.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type, is_nullable, column_default, character_maximum_length, extra
FROM information_schema.columns
WHERE table_schema=?
ORDER BY table_name, ordinal_position`, name)
	if err != nil {
		return snap, err
	}
	defer colsRows.Close()

	for colsRows.Next() {
		var tbl, col, dataType, nullable, extra string
		var def sql.NullString
		var maxLen sql.NullInt64
		if err := colsRows.Scan(&tbl, &col, &dataType, &nullable, &def, &maxLen, &extra); err != nil {
			return snap, err
		}
		e, ok := snap.Entities[tbl]
		if !ok {
			continue
		}
		f := schema.Field{
			Name:     col,
			Type:     mysqlLogicalType(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		}
		if maxLen.Valid {
			f.MaxLength = int(maxLen.Int64)
		}
		if strings.Contains(strings.ToLower(extra), "auto_increment") {
			f.Type = schema.TypeAuto
		} else if def.Valid {
			v := def.String
			f.Default = &v
		}
		e.Fields = append(e.Fields, f)
		snap.Entities[tbl] = e
	}
	return snap, colsRows.Err()
}

func mysqlLogicalType(dataType string) schema.LogicalType {
	switch strings.ToLower(dataType) {
	case "bigint", "int", "smallint", "mediumint":
		return schema.TypeInteger
	case "tinyint":
		return schema.TypeBoolean
	case "double", "float", "decimal":
		return schema.TypeFloat
	case "datetime", "timestamp", "date":
		return schema.TypeTimestamp
	case "blob", "longblob", "varbinary", "binary":
		return schema.TypeBinary
	default:
		return schema.TypeString
	}
}

func backquote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
