package dialect

import (
	"fmt"
	"strings"

	"modelmigrate/internal/migration"
	"modelmigrate/internal/schema"
)

// MySQL translates operations into MySQL/InnoDB DDL. MySQL auto-commits
// DDL, so SupportsTransactionalDDL is false: a failed record may leave
// earlier statements of that record applied.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) SupportsTransactionalDDL() bool { return false }

func (MySQL) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (MySQL) TypeName(f schema.Field) (string, error) {
	switch f.Type {
	case schema.TypeAuto:
		return "bigint AUTO_INCREMENT PRIMARY KEY", nil
	case schema.TypeString:
		if f.MaxLength > 0 {
			return fmt.Sprintf("varchar(%d)", f.MaxLength), nil
		}
		// Bare text cannot back a unique constraint in InnoDB without a
		// prefix length, so bounded strings are preferred in models.
		return "text", nil
	case schema.TypeInteger:
		return "bigint", nil
	case schema.TypeFloat:
		return "double", nil
	case schema.TypeBoolean:
		return "tinyint(1)", nil
	case schema.TypeTimestamp:
		return "datetime", nil
	case schema.TypeBinary:
		return "blob", nil
	case schema.TypeReference:
		return "bigint", nil
	default:
		return "", fmt.Errorf("unknown field type %q", f.Type)
	}
}

func (m MySQL) Statements(op migration.Operation) ([]string, error) {
	table := m.QuoteIdent(op.Entity)
	switch op.Kind {
	case migration.OpCreateTable:
		return createTable(m, op, " ENGINE=InnoDB")
	case migration.OpDropTable:
		return []string{fmt.Sprintf("DROP TABLE %s", table)}, nil
	case migration.OpAddColumn:
		def, err := columnDef(m, *op.Column, false)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, def)}, nil
	case migration.OpDropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, m.QuoteIdent(op.Column.Name))}, nil
	case migration.OpAlterColumn:
		def, err := columnDef(m, *op.Column, false)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", table, def)}, nil
	case migration.OpRenameColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			table, m.QuoteIdent(op.OldName), m.QuoteIdent(op.NewName))}, nil
	case migration.OpAddIndex:
		return []string{createIndex(m, op.Entity, *op.Index)}, nil
	case migration.OpDropIndex:
		return []string{fmt.Sprintf("DROP INDEX %s ON %s", m.QuoteIdent(op.Index.Name), table)}, nil
	case migration.OpAddConstraint:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD %s", table, constraintDef(m, *op.Constraint))}, nil
	case migration.OpDropConstraint:
		cn := op.Constraint
		if cn.Kind == schema.ConstraintForeignKey {
			return []string{fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", table, m.QuoteIdent(cn.Name))}, nil
		}
		// Unique constraints are implemented as indexes.
		return []string{fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", table, m.QuoteIdent(cn.Name))}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
