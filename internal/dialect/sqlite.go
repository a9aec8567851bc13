package dialect

import (
	"fmt"
	"strings"

	"modelmigrate/internal/migration"
	"modelmigrate/internal/schema"
)

// SQLite translates operations into SQLite DDL. SQLite's ALTER TABLE is
// deliberately small: column and constraint alterations that would need
// a table rebuild are reported as unsupported rather than half-done.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) SupportsTransactionalDDL() bool { return true }

func (SQLite) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (SQLite) TypeName(f schema.Field) (string, error) {
	switch f.Type {
	case schema.TypeAuto:
		return "integer PRIMARY KEY AUTOINCREMENT", nil
	case schema.TypeString:
		return "text", nil
	case schema.TypeInteger:
		return "integer", nil
	case schema.TypeFloat:
		return "real", nil
	case schema.TypeBoolean:
		return "integer", nil
	case schema.TypeTimestamp:
		return "text", nil
	case schema.TypeBinary:
		return "blob", nil
	case schema.TypeReference:
		return "integer", nil
	default:
		return "", fmt.Errorf("unknown field type %q", f.Type)
	}
}

func (s SQLite) Statements(op migration.Operation) ([]string, error) {
	table := s.QuoteIdent(op.Entity)
	switch op.Kind {
	case migration.OpCreateTable:
		return createTable(s, op, "")
	case migration.OpDropTable:
		return []string{fmt.Sprintf("DROP TABLE %s", table)}, nil
	case migration.OpAddColumn:
		def, err := columnDef(s, *op.Column, false)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, def)}, nil
	case migration.OpDropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, s.QuoteIdent(op.Column.Name))}, nil
	case migration.OpRenameColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			table, s.QuoteIdent(op.OldName), s.QuoteIdent(op.NewName))}, nil
	case migration.OpAddIndex:
		return []string{createIndex(s, op.Entity, *op.Index)}, nil
	case migration.OpDropIndex:
		return []string{fmt.Sprintf("DROP INDEX %s", s.QuoteIdent(op.Index.Name))}, nil
	case migration.OpAddConstraint:
		cn := op.Constraint
		if cn.Kind == schema.ConstraintUnique {
			// No ALTER TABLE ADD CONSTRAINT; a unique index is the
			// SQLite spelling of a unique constraint.
			return []string{createIndex(s, op.Entity, schema.Index{
				Name:    cn.Name,
				Columns: cn.Columns,
				Unique:  true,
			})}, nil
		}
		return nil, fmt.Errorf("sqlite cannot add constraint %s to an existing table", cn.Name)
	case migration.OpDropConstraint:
		cn := op.Constraint
		if cn.Kind == schema.ConstraintUnique {
			return []string{fmt.Sprintf("DROP INDEX %s", s.QuoteIdent(cn.Name))}, nil
		}
		return nil, fmt.Errorf("sqlite cannot drop constraint %s from an existing table", cn.Name)
	case migration.OpAlterColumn:
		return nil, fmt.Errorf("sqlite cannot alter column %s.%s in place", op.Entity, op.Column.Name)
	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
