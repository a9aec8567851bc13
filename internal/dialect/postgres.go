package dialect

import (
	"fmt"
	"strings"

	"modelmigrate/internal/migration"
	"modelmigrate/internal/schema"
)

// Postgres translates operations into PostgreSQL DDL.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) SupportsTransactionalDDL() bool { return true }

func (Postgres) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Postgres) TypeName(f schema.Field) (string, error) {
	switch f.Type {
	case schema.TypeAuto:
		return "bigserial PRIMARY KEY", nil
	case schema.TypeString:
		if f.MaxLength > 0 {
			return fmt.Sprintf("varchar(%d)", f.MaxLength), nil
		}
		return "text", nil
	case schema.TypeInteger:
		return "bigint", nil
	case schema.TypeFloat:
		return "double precision", nil
	case schema.TypeBoolean:
		return "boolean", nil
	case schema.TypeTimestamp:
		return "timestamptz", nil
	case schema.TypeBinary:
		return "bytea", nil
	case schema.TypeReference:
		return "bigint", nil
	default:
		return "", fmt.Errorf("unknown field type %q", f.Type)
	}
}

func (p Postgres) Statements(op migration.Operation) ([]string, error) {
	table := p.QuoteIdent(op.Entity)
	switch op.Kind {
	case migration.OpCreateTable:
		return createTable(p, op, "")
	case migration.OpDropTable:
		return []string{fmt.Sprintf("DROP TABLE %s", table)}, nil
	case migration.OpAddColumn:
		def, err := columnDef(p, *op.Column, false)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, def)}, nil
	case migration.OpDropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, p.QuoteIdent(op.Column.Name))}, nil
	case migration.OpAlterColumn:
		return p.alterColumn(op)
	case migration.OpRenameColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			table, p.QuoteIdent(op.OldName), p.QuoteIdent(op.NewName))}, nil
	case migration.OpAddIndex:
		return []string{createIndex(p, op.Entity, *op.Index)}, nil
	case migration.OpDropIndex:
		return []string{fmt.Sprintf("DROP INDEX %s", p.QuoteIdent(op.Index.Name))}, nil
	case migration.OpAddConstraint:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD %s", table, constraintDef(p, *op.Constraint))}, nil
	case migration.OpDropConstraint:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, p.QuoteIdent(op.Constraint.Name))}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func (p Postgres) alterColumn(op migration.Operation) ([]string, error) {
	table := p.QuoteIdent(op.Entity)
	col := p.QuoteIdent(op.Column.Name)
	var stmts []string

	typeName, err := p.TypeName(*op.Column)
	if err != nil {
		return nil, err
	}
	if op.Prior == nil || typeChanged(*op.Prior, *op.Column) {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			table, col, typeName, col, typeName))
	}
	if op.Prior == nil || op.Prior.Nullable != op.Column.Nullable {
		if op.Column.Nullable {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", table, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", table, col))
		}
	}
	if op.Prior == nil || !defaultsMatch(op.Prior, op.Column) {
		if op.Column.Default == nil {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", table, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s",
				table, col, defaultLiteral(p, *op.Column)))
		}
	}
	return stmts, nil
}

func typeChanged(prior, cur schema.Field) bool {
	return prior.Type != cur.Type || prior.MaxLength != cur.MaxLength
}

func defaultsMatch(a, b *schema.Field) bool {
	if a.Default == nil && b.Default == nil {
		return true
	}
	if a.Default == nil || b.Default == nil {
		return false
	}
	return *a.Default == *b.Default
}
