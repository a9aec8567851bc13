package schema

import (
	"fmt"
	"sort"
	"strings"
)

// LogicalType is a backend-independent field type. Dialects map these to
// concrete column types.
type LogicalType string

const (
	TypeAuto      LogicalType = "auto"
	TypeString    LogicalType = "string"
	TypeInteger   LogicalType = "integer"
	TypeFloat     LogicalType = "float"
	TypeBoolean   LogicalType = "boolean"
	TypeTimestamp LogicalType = "timestamp"
	TypeBinary    LogicalType = "binary"
	TypeReference LogicalType = "reference"
)

// DeletePolicy controls what happens to referencing rows when the
// referenced row is deleted.
type DeletePolicy string

const (
	DeleteCascade  DeletePolicy = "cascade"
	DeleteRestrict DeletePolicy = "restrict"
	DeleteSetNull  DeletePolicy = "set_null"
)

// Field describes one declared column of an entity.
type Field struct {
	Name      string       `json:"name" yaml:"name"`
	Type      LogicalType  `json:"type" yaml:"type"`
	Nullable  bool         `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Default   *string      `json:"default,omitempty" yaml:"default,omitempty"`
	Unique    bool         `json:"unique,omitempty" yaml:"unique,omitempty"`
	MaxLength int          `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	// References and OnDelete are only meaningful for TypeReference fields.
	References string       `json:"references,omitempty" yaml:"references,omitempty"`
	OnDelete   DeletePolicy `json:"on_delete,omitempty" yaml:"on_delete,omitempty"`
}

// Index describes a secondary index over one or more columns.
type Index struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
	Unique  bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// ConstraintKind discriminates Constraint variants.
type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
)

// Constraint describes a table-level constraint.
type Constraint struct {
	Name    string         `json:"name" yaml:"name"`
	Kind    ConstraintKind `json:"kind" yaml:"kind"`
	Columns []string       `json:"columns" yaml:"columns"`
	// Foreign-key payload, empty for unique constraints.
	RefEntity string       `json:"ref_entity,omitempty" yaml:"ref_entity,omitempty"`
	RefColumn string       `json:"ref_column,omitempty" yaml:"ref_column,omitempty"`
	OnDelete  DeletePolicy `json:"on_delete,omitempty" yaml:"on_delete,omitempty"`
}

// Entity is one declared model: an ordered field list plus secondary
// indexes and table constraints.
type Entity struct {
	Name        string       `json:"name" yaml:"name"`
	Fields      []Field      `json:"fields" yaml:"fields"`
	Indexes     []Index      `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Field returns the named field and whether it exists.
func (e Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Snapshot is a normalized description of every declared entity at one
// point in time. Entity names are unique; field names are unique within
// an entity.
type Snapshot struct {
	Entities map[string]Entity `json:"entities"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{Entities: map[string]Entity{}}
}

// EntityNames returns entity names in lexical order.
func (s Snapshot) EntityNames() []string {
	names := make([]string, 0, len(s.Entities))
	for name := range s.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy. Diffing and projection never mutate their
// inputs, so copies guard against aliasing of the field slices.
func (s Snapshot) Clone() Snapshot {
	out := NewSnapshot()
	for name, e := range s.Entities {
		out.Entities[name] = cloneEntity(e)
	}
	return out
}

func cloneEntity(e Entity) Entity {
	c := Entity{Name: e.Name}
	c.Fields = append([]Field(nil), e.Fields...)
	for i, f := range c.Fields {
		if f.Default != nil {
			v := *f.Default
			c.Fields[i].Default = &v
		}
	}
	for _, ix := range e.Indexes {
		ix.Columns = append([]string(nil), ix.Columns...)
		c.Indexes = append(c.Indexes, ix)
	}
	for _, cn := range e.Constraints {
		cn.Columns = append([]string(nil), cn.Columns...)
		c.Constraints = append(c.Constraints, cn)
	}
	return c
}

// FieldsEqual reports whether two fields agree on everything the diff
// engine considers column-shaped: type, nullability, default and length.
// Uniqueness is compared separately through derived constraints.
func FieldsEqual(a, b Field) bool {
	return a.Type == b.Type &&
		a.Nullable == b.Nullable &&
		a.MaxLength == b.MaxLength &&
		a.References == b.References &&
		a.OnDelete == b.OnDelete &&
		defaultsEqual(a.Default, b.Default)
}

func defaultsEqual(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return strings.TrimSpace(*a) == strings.TrimSpace(*b)
}

// DerivedConstraints returns the entity's declared constraints plus the
// ones implied by field flags: a unique constraint per unique field and a
// foreign key per reference field. Names are deterministic so two reads
// of the same model derive identical sets.
func DerivedConstraints(e Entity) []Constraint {
	out := append([]Constraint(nil), e.Constraints...)
	for _, f := range e.Fields {
		if f.Unique {
			out = append(out, Constraint{
				Name:    UniqueConstraintName(e.Name, f.Name),
				Kind:    ConstraintUnique,
				Columns: []string{f.Name},
			})
		}
		if f.Type == TypeReference {
			out = append(out, Constraint{
				Name:      ForeignKeyName(e.Name, f.Name),
				Kind:      ConstraintForeignKey,
				Columns:   []string{f.Name},
				RefEntity: f.References,
				RefColumn: "id",
				OnDelete:  f.OnDelete,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UniqueConstraintName builds the conventional name for a single-column
// unique constraint.
func UniqueConstraintName(entity, field string) string {
	return fmt.Sprintf("uq_%s_%s", entity, field)
}

// ForeignKeyName builds the conventional name for a reference field's
// foreign key.
func ForeignKeyName(entity, field string) string {
	return fmt.Sprintf("fk_%s_%s", entity, field)
}
