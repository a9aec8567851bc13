package migration

import (
	"fmt"

	"modelmigrate/internal/schema"
)

// Project applies a record sequence to a snapshot and returns the
// resulting declared state. It is how the engine reconstructs the
// last-known-applied schema from the append-only history without
// touching a database.
func Project(base schema.Snapshot, records []Record) (schema.Snapshot, error) {
	snap := base.Clone()
	for _, rec := range records {
		for _, op := range rec.Operations {
			if err := projectOp(&snap, op); err != nil {
				return schema.Snapshot{}, fmt.Errorf("migration %s: %w", rec.ID, err)
			}
		}
	}
	return snap, nil
}

func projectOp(snap *schema.Snapshot, op Operation) error {
	switch op.Kind {
	case OpCreateTable:
		if _, ok := snap.Entities[op.Entity]; ok {
			return fmt.Errorf("create_table %s: entity already exists", op.Entity)
		}
		snap.Entities[op.Entity] = schema.Entity{
			Name:        op.Entity,
			Fields:      append([]schema.Field(nil), op.Fields...),
			Indexes:     append([]schema.Index(nil), op.Indexes...),
			Constraints: append([]schema.Constraint(nil), op.Constraints...),
		}
	case OpDropTable:
		if _, ok := snap.Entities[op.Entity]; !ok {
			return fmt.Errorf("drop_table %s: entity does not exist", op.Entity)
		}
		delete(snap.Entities, op.Entity)
	case OpAddColumn:
		e, err := entityFor(snap, op)
		if err != nil {
			return err
		}
		if _, ok := e.Field(op.Column.Name); ok {
			return fmt.Errorf("add_column %s.%s: field already exists", op.Entity, op.Column.Name)
		}
		e.Fields = append(e.Fields, *op.Column)
		snap.Entities[op.Entity] = e
	case OpDropColumn:
		e, err := entityFor(snap, op)
		if err != nil {
			return err
		}
		name := op.Column.Name
		kept := e.Fields[:0]
		found := false
		for _, f := range e.Fields {
			if f.Name == name {
				found = true
				continue
			}
			kept = append(kept, f)
		}
		if !found {
			return fmt.Errorf("drop_column %s.%s: field does not exist", op.Entity, name)
		}
		e.Fields = kept
		snap.Entities[op.Entity] = e
	case OpAlterColumn:
		e, err := entityFor(snap, op)
		if err != nil {
			return err
		}
		found := false
		for i, f := range e.Fields {
			if f.Name == op.Column.Name {
				e.Fields[i] = *op.Column
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("alter_column %s.%s: field does not exist", op.Entity, op.Column.Name)
		}
		snap.Entities[op.Entity] = e
	case OpRenameColumn:
		e, err := entityFor(snap, op)
		if err != nil {
			return err
		}
		found := false
		for i, f := range e.Fields {
			if f.Name == op.OldName {
				e.Fields[i].Name = op.NewName
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("rename_column %s.%s: field does not exist", op.Entity, op.OldName)
		}
		snap.Entities[op.Entity] = e
	case OpAddIndex:
		e, err := entityFor(snap, op)
		if err != nil {
			return err
		}
		e.Indexes = append(e.Indexes, *op.Index)
		snap.Entities[op.Entity] = e
	case OpDropIndex:
		e, err := entityFor(snap, op)
		if err != nil {
			return err
		}
		kept := e.Indexes[:0]
		for _, ix := range e.Indexes {
			if ix.Name != op.Index.Name {
				kept = append(kept, ix)
			}
		}
		e.Indexes = kept
		snap.Entities[op.Entity] = e
	case OpAddConstraint:
		e, err := entityFor(snap, op)
		if err != nil {
			return err
		}
		e.Constraints = append(e.Constraints, *op.Constraint)
		snap.Entities[op.Entity] = e
	case OpDropConstraint:
		e, err := entityFor(snap, op)
		if err != nil {
			return err
		}
		kept := e.Constraints[:0]
		for _, cn := range e.Constraints {
			if cn.Name != op.Constraint.Name {
				kept = append(kept, cn)
			}
		}
		e.Constraints = kept
		snap.Entities[op.Entity] = e
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

func entityFor(snap *schema.Snapshot, op Operation) (schema.Entity, error) {
	e, ok := snap.Entities[op.Entity]
	if !ok {
		return schema.Entity{}, fmt.Errorf("%s %s: entity does not exist", op.Kind, op.Entity)
	}
	return e, nil
}
