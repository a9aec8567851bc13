package db

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"

	"modelmigrate/internal/schema"
)

// PostgresDriver runs against PostgreSQL through the pgx stdlib driver.
type PostgresDriver struct {
	db *sql.DB
}

func (p *PostgresDriver) Provider() string { return "postgres" }

func (p *PostgresDriver) Close() error { return p.db.Close() }

func (p *PostgresDriver) Exec(ctx context.Context, stmt string, args ...any) error {
	return execDirect(ctx, p.db, stmt, args...)
}

func (p *PostgresDriver) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

func (p *PostgresDriver) AcquireLock(ctx context.Context, name string) error {
	if _, err := p.db.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryKey(name)); err != nil {
		return lockTimeoutErr(ctx, fmt.Errorf("acquire advisory lock: %w", err))
	}
	return nil
}

func (p *PostgresDriver) ReleaseLock(ctx context.Context, name string) error {
	if _, err := p.db.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, advisoryKey(name)); err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}
	return nil
}

func (p *PostgresDriver) EnsureStateTable(ctx context.Context, table string) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	migration_id text PRIMARY KEY,
	applied_at timestamptz NOT NULL,
	checksum text NOT NULL
)`, quoteIdent(table))
	return execDirect(ctx, p.db, stmt)
}

func (p *PostgresDriver) AppliedRows(ctx context.Context, table string) ([]AppliedRow, error) {
	stmt := fmt.Sprintf(`SELECT migration_id, applied_at, checksum FROM %s ORDER BY migration_id`, quoteIdent(table))
	rows, err := p.db.QueryContext(ctx, stmt)
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

func (p *PostgresDriver) InsertApplied(ctx context.Context, table string, row AppliedRow) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (migration_id, applied_at, checksum) VALUES ($1,$2,$3)`, quoteIdent(table))
	return execDirect(ctx, p.db, stmt, row.MigrationID, row.AppliedAt, row.Checksum)
}

func (p *PostgresDriver) DeleteApplied(ctx context.Context, table, migrationID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE migration_id=$1`, quoteIdent(table))
	return execDirect(ctx, p.db, stmt, migrationID)
}

func (p *PostgresDriver) IntrospectSchema(ctx context.Context, schemaName string) (schema.Snapshot, error) {
	if schemaName == "" {
		schemaName = "public"
	}
	snap := schema.NewSnapshot()

	tablesRows, err := p.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema=$1 AND table_type='BASE TABLE'`, schemaName)
	if err != nil {
		return snap, err
	}
	defer tablesRows.Close()

	for tablesRows.Next() {
		var name string
		if err := tablesRows.Scan(&name); err != nil {
			return snap, err
		}
		snap.Entities[name] = schema.Entity{Name: name}
	}
	if err := tablesRows.Err(); err != nil {
		return snap, err
	}

	pk, err := p.primaryKeys(ctx, schemaName)
	if err != nil {
		return snap, err
	}

	colsRows, err := p.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type, is_nullable, column_default, character_maximum_length
FROM information_schema.columns
WHERE table_schema=$1
ORDER BY table_name, ordinal_position`, schemaName)
	if err != nil {
		return snap, err
	}
	defer colsRows.Close()

	for colsRows.Next() {
		var tbl, col, dataType, nullable string
		var def sql.NullString
		var maxLen sql.NullInt64
		if err := colsRows.Scan(&tbl, &col, &dataType, &nullable, &def, &maxLen); err != nil {
			return snap, err
		}
		e, ok := snap.Entities[tbl]
		if !ok {
			continue
		}
		f := schema.Field{
			Name:     col,
			Type:     pgLogicalType(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		}
		if maxLen.Valid {
			f.MaxLength = int(maxLen.Int64)
		}
		if pk[tbl] == col && f.Type == schema.TypeInteger {
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

// primaryKeys maps each table to its primary key column; composite keys
// keep only the first column, which is enough for auto-field detection.
func (p *PostgresDriver) primaryKeys(ctx context.Context, schemaName string) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.table_schema=$1 AND tc.constraint_type='PRIMARY KEY'
ORDER BY kcu.ordinal_position`, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var tbl, col string
		if err := rows.Scan(&tbl, &col); err != nil {
			return nil, err
		}
		if _, ok := out[tbl]; !ok {
			out[tbl] = col
		}
	}
	return out, rows.Err()
}

func pgLogicalType(dataType string) schema.LogicalType {
	switch strings.ToLower(dataType) {
	case "bigint", "integer", "smallint":
		return schema.TypeInteger
	case "double precision", "real", "numeric":
		return schema.TypeFloat
	case "boolean":
		return schema.TypeBoolean
	case "timestamp with time zone", "timestamp without time zone", "date":
		return schema.TypeTimestamp
	case "bytea":
		return schema.TypeBinary
	default:
		return schema.TypeString
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// advisoryKey folds a lock name into the signed 64-bit key space
// pg_advisory_lock expects.
func advisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
