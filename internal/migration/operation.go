package migration

import (
	"errors"
	"fmt"

	"modelmigrate/internal/schema"
)

// ErrIrreversible marks operations whose inverse cannot reconstruct the
// data destroyed by the forward direction.
var ErrIrreversible = errors.New("operation is irreversible")

// OpKind discriminates Operation variants.
type OpKind string

const (
	OpCreateTable    OpKind = "create_table"
	OpDropTable      OpKind = "drop_table"
	OpAddColumn      OpKind = "add_column"
	OpDropColumn     OpKind = "drop_column"
	OpAlterColumn    OpKind = "alter_column"
	OpRenameColumn   OpKind = "rename_column"
	OpAddIndex       OpKind = "add_index"
	OpDropIndex      OpKind = "drop_index"
	OpAddConstraint  OpKind = "add_constraint"
	OpDropConstraint OpKind = "drop_constraint"
)

// Operation is one atomic schema edit. The payload fields used depend on
// Kind; unused fields stay zero so the JSON encoding remains stable under
// re-serialization. Every drop variant carries the prior definition so
// its inverse can be synthesized without consulting older snapshots.
type Operation struct {
	Kind   OpKind `json:"kind"`
	Entity string `json:"entity"`

	// Table payload (create_table, and drop_table's inverse).
	Fields      []schema.Field      `json:"fields,omitempty"`
	Indexes     []schema.Index      `json:"indexes,omitempty"`
	Constraints []schema.Constraint `json:"constraints,omitempty"`

	// Column payload. Prior holds the pre-change definition for
	// alter_column and drop_column.
	Column *schema.Field `json:"column,omitempty"`
	Prior  *schema.Field `json:"prior,omitempty"`

	// Rename payload.
	OldName string `json:"old_name,omitempty"`
	NewName string `json:"new_name,omitempty"`

	Index      *schema.Index      `json:"index,omitempty"`
	Constraint *schema.Constraint `json:"constraint,omitempty"`
}

// Reversible reports whether the operation has a defined inverse.
// Dropping a table or column destroys row data that no inverse can
// restore, so both are flagged irreversible and block automatic revert.
func (op Operation) Reversible() bool {
	switch op.Kind {
	case OpDropTable, OpDropColumn:
		return false
	case OpAlterColumn:
		return op.Prior != nil
	default:
		return true
	}
}

// Invert returns the operation undoing op, or ErrIrreversible.
func (op Operation) Invert() (Operation, error) {
	switch op.Kind {
	case OpCreateTable:
		return Operation{Kind: OpDropTable, Entity: op.Entity, Fields: op.Fields, Indexes: op.Indexes, Constraints: op.Constraints}, nil
	case OpAddColumn:
		return Operation{Kind: OpDropColumn, Entity: op.Entity, Column: op.Column, Prior: op.Column}, nil
	case OpAlterColumn:
		if op.Prior == nil {
			return Operation{}, fmt.Errorf("alter_column %s.%s: %w", op.Entity, columnName(op), ErrIrreversible)
		}
		return Operation{Kind: OpAlterColumn, Entity: op.Entity, Column: op.Prior, Prior: op.Column}, nil
	case OpRenameColumn:
		return Operation{Kind: OpRenameColumn, Entity: op.Entity, OldName: op.NewName, NewName: op.OldName}, nil
	case OpAddIndex:
		return Operation{Kind: OpDropIndex, Entity: op.Entity, Index: op.Index}, nil
	case OpDropIndex:
		return Operation{Kind: OpAddIndex, Entity: op.Entity, Index: op.Index}, nil
	case OpAddConstraint:
		return Operation{Kind: OpDropConstraint, Entity: op.Entity, Constraint: op.Constraint}, nil
	case OpDropConstraint:
		return Operation{Kind: OpAddConstraint, Entity: op.Entity, Constraint: op.Constraint}, nil
	case OpDropTable, OpDropColumn:
		return Operation{}, fmt.Errorf("%s %s: %w", op.Kind, op.Entity, ErrIrreversible)
	default:
		return Operation{}, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// Validate checks that the operation carries the payload its kind
// requires. Records can be authored by hand, so structural gaps must
// surface as errors here instead of nil dereferences during projection
// or translation.
func (op Operation) Validate() error {
	if op.Entity == "" {
		return fmt.Errorf("%s: missing entity", op.Kind)
	}
	switch op.Kind {
	case OpCreateTable, OpDropTable:
		return nil
	case OpAddColumn, OpDropColumn, OpAlterColumn:
		if op.Column == nil {
			return fmt.Errorf("%s %s: missing column payload", op.Kind, op.Entity)
		}
		if op.Column.Name == "" {
			return fmt.Errorf("%s %s: column has no name", op.Kind, op.Entity)
		}
	case OpRenameColumn:
		if op.OldName == "" || op.NewName == "" {
			return fmt.Errorf("rename_column %s: missing old or new name", op.Entity)
		}
	case OpAddIndex, OpDropIndex:
		if op.Index == nil {
			return fmt.Errorf("%s %s: missing index payload", op.Kind, op.Entity)
		}
		if op.Index.Name == "" || len(op.Index.Columns) == 0 {
			return fmt.Errorf("%s %s: index needs a name and columns", op.Kind, op.Entity)
		}
	case OpAddConstraint, OpDropConstraint:
		if op.Constraint == nil {
			return fmt.Errorf("%s %s: missing constraint payload", op.Kind, op.Entity)
		}
		if op.Constraint.Name == "" {
			return fmt.Errorf("%s %s: constraint has no name", op.Kind, op.Entity)
		}
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

// Describe returns a short human-readable summary used by plan output
// and error reports.
func (op Operation) Describe() string {
	switch op.Kind {
	case OpCreateTable, OpDropTable:
		return fmt.Sprintf("%s %s", op.Kind, op.Entity)
	case OpAddColumn, OpDropColumn, OpAlterColumn:
		return fmt.Sprintf("%s %s.%s", op.Kind, op.Entity, columnName(op))
	case OpRenameColumn:
		return fmt.Sprintf("rename_column %s.%s -> %s", op.Entity, op.OldName, op.NewName)
	case OpAddIndex, OpDropIndex:
		name := ""
		if op.Index != nil {
			name = op.Index.Name
		}
		return fmt.Sprintf("%s %s.%s", op.Kind, op.Entity, name)
	case OpAddConstraint, OpDropConstraint:
		name := ""
		if op.Constraint != nil {
			name = op.Constraint.Name
		}
		return fmt.Sprintf("%s %s.%s", op.Kind, op.Entity, name)
	default:
		return string(op.Kind)
	}
}

func columnName(op Operation) string {
	if op.Column != nil {
		return op.Column.Name
	}
	if op.Prior != nil {
		return op.Prior.Name
	}
	return "?"
}
