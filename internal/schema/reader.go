package schema

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidModel marks any model-definition validation failure.
var ErrInvalidModel = errors.New("invalid model definition")

// ModelError describes a single validation failure in a declared model.
type ModelError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ModelError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid model definition: entity %s field %s: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid model definition: entity %s: %s", e.Entity, e.Reason)
}

func (e *ModelError) Is(target error) bool { return target == ErrInvalidModel }

// LoadModels reads declared entities from a YAML model file.
func LoadModels(path string) ([]Entity, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models: %w", err)
	}
	var doc struct {
		Entities []Entity `yaml:"entities"`
	}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse models: %w", err)
	}
	return doc.Entities, nil
}

// Read validates the declared entities and produces a normalized
// snapshot. It is a pure transformation: entities are copied, never
// shared with the returned snapshot.
func Read(entities []Entity) (Snapshot, error) {
	snap := NewSnapshot()

	for _, e := range entities {
		if e.Name == "" {
			return Snapshot{}, &ModelError{Entity: e.Name, Reason: "entity name is empty"}
		}
		if _, ok := snap.Entities[e.Name]; ok {
			return Snapshot{}, &ModelError{Entity: e.Name, Reason: "duplicate entity name"}
		}
		snap.Entities[e.Name] = cloneEntity(e)
	}

	for _, name := range snap.EntityNames() {
		e := snap.Entities[name]
		seen := map[string]struct{}{}
		for _, f := range e.Fields {
			if f.Name == "" {
				return Snapshot{}, &ModelError{Entity: name, Reason: "field name is empty"}
			}
			if _, dup := seen[f.Name]; dup {
				return Snapshot{}, &ModelError{Entity: name, Field: f.Name, Reason: "duplicate field name"}
			}
			seen[f.Name] = struct{}{}

			if err := validateField(snap, name, f); err != nil {
				return Snapshot{}, err
			}
		}
		for _, ix := range e.Indexes {
			for _, col := range ix.Columns {
				if _, ok := e.Field(col); !ok {
					return Snapshot{}, &ModelError{Entity: name, Field: col, Reason: fmt.Sprintf("index %s names unknown field", ix.Name)}
				}
			}
		}
		for _, cn := range e.Constraints {
			for _, col := range cn.Columns {
				if _, ok := e.Field(col); !ok {
					return Snapshot{}, &ModelError{Entity: name, Field: col, Reason: fmt.Sprintf("constraint %s names unknown field", cn.Name)}
				}
			}
			if cn.Kind == ConstraintForeignKey {
				if _, ok := snap.Entities[cn.RefEntity]; !ok {
					return Snapshot{}, &ModelError{Entity: name, Reason: fmt.Sprintf("constraint %s references unknown entity %s", cn.Name, cn.RefEntity)}
				}
			}
		}
	}
	return snap, nil
}

func validateField(snap Snapshot, entity string, f Field) error {
	switch f.Type {
	case TypeAuto, TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeTimestamp, TypeBinary:
	case TypeReference:
		if f.References == "" {
			return &ModelError{Entity: entity, Field: f.Name, Reason: "reference field missing target entity"}
		}
		if _, ok := snap.Entities[f.References]; !ok {
			return &ModelError{Entity: entity, Field: f.Name, Reason: fmt.Sprintf("references unknown entity %s", f.References)}
		}
		switch f.OnDelete {
		case DeleteCascade, DeleteRestrict, DeleteSetNull:
		case "":
			return &ModelError{Entity: entity, Field: f.Name, Reason: "reference field missing on_delete policy"}
		default:
			return &ModelError{Entity: entity, Field: f.Name, Reason: fmt.Sprintf("unknown on_delete policy %q", f.OnDelete)}
		}
		if f.OnDelete == DeleteSetNull && !f.Nullable {
			return &ModelError{Entity: entity, Field: f.Name, Reason: "on_delete set_null requires a nullable field"}
		}
	default:
		return &ModelError{Entity: entity, Field: f.Name, Reason: fmt.Sprintf("unknown type %q", f.Type)}
	}

	if f.MaxLength != 0 && f.Type != TypeString {
		return &ModelError{Entity: entity, Field: f.Name, Reason: "max_length is only valid for string fields"}
	}
	if f.Default != nil {
		if err := validateDefault(f); err != nil {
			return &ModelError{Entity: entity, Field: f.Name, Reason: err.Error()}
		}
	}
	return nil
}

func validateDefault(f Field) error {
	val := strings.TrimSpace(*f.Default)
	switch f.Type {
	case TypeString:
		return nil
	case TypeInteger:
		if _, err := strconv.ParseInt(val, 10, 64); err != nil {
			return fmt.Errorf("default %q is not an integer", val)
		}
	case TypeFloat:
		if _, err := strconv.ParseFloat(val, 64); err != nil {
			return fmt.Errorf("default %q is not a float", val)
		}
	case TypeBoolean:
		if !strings.EqualFold(val, "true") && !strings.EqualFold(val, "false") {
			return fmt.Errorf("default %q is not a boolean", val)
		}
	case TypeTimestamp:
		// "now" requests the database clock at insert time.
		if strings.EqualFold(val, "now") {
			return nil
		}
		if _, err := time.Parse(time.RFC3339, val); err != nil {
			return fmt.Errorf("default %q is not RFC3339 or now", val)
		}
	default:
		return fmt.Errorf("type %s does not accept a default", f.Type)
	}
	return nil
}
