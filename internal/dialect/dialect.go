// Package dialect translates backend-independent operations into the SQL
// of a concrete database. Translators are pure: they synthesize statement
// strings and never touch a connection.
package dialect

import (
	"fmt"
	"strings"

	"modelmigrate/internal/migration"
	"modelmigrate/internal/schema"
)

// Translator is the capability set a backend must implement: statement
// synthesis and type-name mapping. The executor stays backend-agnostic by
// delegating everything SQL-shaped here.
type Translator interface {
	Name() string
	QuoteIdent(name string) string
	TypeName(f schema.Field) (string, error)
	Statements(op migration.Operation) ([]string, error)
	// SupportsTransactionalDDL reports whether the backend honors
	// transaction rollback for DDL. Backends that auto-commit DDL can
	// leave partially applied records behind on failure; that is a
	// documented engine limitation, surfaced in failure reports.
	SupportsTransactionalDDL() bool
}

// For returns the translator for a provider name.
func For(provider string) (Translator, error) {
	switch strings.ToLower(provider) {
	case "postgres":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	case "sqlite":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %s", provider)
	}
}

// columnDef renders "name type [NOT NULL] [DEFAULT v]" using the
// translator's type mapping. Inline UNIQUE and REFERENCES clauses are
// only rendered inside CREATE TABLE; column-level diffs carry those as
// separate constraint operations.
func columnDef(t Translator, f schema.Field, inline bool) (string, error) {
	typeName, err := t.TypeName(f)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(t.QuoteIdent(f.Name))
	b.WriteString(" ")
	b.WriteString(typeName)
	if f.Type == schema.TypeAuto {
		// Auto fields carry their own primary-key phrasing in TypeName.
		return b.String(), nil
	}
	if !f.Nullable {
		b.WriteString(" NOT NULL")
	}
	if f.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(defaultLiteral(t, f))
	}
	if inline && f.Unique {
		b.WriteString(" UNIQUE")
	}
	if inline && f.Type == schema.TypeReference {
		b.WriteString(fmt.Sprintf(" REFERENCES %s(%s)%s",
			t.QuoteIdent(f.References), t.QuoteIdent("id"), onDeleteClause(f.OnDelete)))
	}
	return b.String(), nil
}

func defaultLiteral(t Translator, f schema.Field) string {
	val := strings.TrimSpace(*f.Default)
	switch f.Type {
	case schema.TypeString:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case schema.TypeBoolean:
		if _, ok := t.(MySQL); ok || isSQLite(t) {
			if strings.EqualFold(val, "true") {
				return "1"
			}
			return "0"
		}
		return strings.ToLower(val)
	case schema.TypeTimestamp:
		if strings.EqualFold(val, "now") {
			return "CURRENT_TIMESTAMP"
		}
		return "'" + val + "'"
	default:
		return val
	}
}

func isSQLite(t Translator) bool {
	_, ok := t.(SQLite)
	return ok
}

func onDeleteClause(p schema.DeletePolicy) string {
	switch p {
	case schema.DeleteCascade:
		return " ON DELETE CASCADE"
	case schema.DeleteRestrict:
		return " ON DELETE RESTRICT"
	case schema.DeleteSetNull:
		return " ON DELETE SET NULL"
	default:
		return ""
	}
}

func quoteColumns(t Translator, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = t.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// createTable renders the shared CREATE TABLE shape; the caller supplies
// dialect-specific trailing text (engine clauses and the like).
func createTable(t Translator, op migration.Operation, suffix string) ([]string, error) {
	defs := make([]string, 0, len(op.Fields)+len(op.Constraints))
	for _, f := range op.Fields {
		def, err := columnDef(t, f, true)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", op.Entity, err)
		}
		defs = append(defs, "\t"+def)
	}
	for _, cn := range op.Constraints {
		defs = append(defs, "\t"+constraintDef(t, cn))
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE %s (\n%s\n)%s",
		t.QuoteIdent(op.Entity), strings.Join(defs, ",\n"), suffix)}
	for _, ix := range op.Indexes {
		stmts = append(stmts, createIndex(t, op.Entity, ix))
	}
	return stmts, nil
}

func constraintDef(t Translator, cn schema.Constraint) string {
	switch cn.Kind {
	case schema.ConstraintUnique:
		return fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", t.QuoteIdent(cn.Name), quoteColumns(t, cn.Columns))
	case schema.ConstraintForeignKey:
		return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s)%s",
			t.QuoteIdent(cn.Name), quoteColumns(t, cn.Columns),
			t.QuoteIdent(cn.RefEntity), t.QuoteIdent(cn.RefColumn), onDeleteClause(cn.OnDelete))
	default:
		return ""
	}
}

func createIndex(t Translator, entity string, ix schema.Index) string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, t.QuoteIdent(ix.Name), t.QuoteIdent(entity), quoteColumns(t, ix.Columns))
}
