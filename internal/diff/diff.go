// Package diff synthesizes migration operations from two schema
// snapshots. The result is ordered so that applying it never violates
// referential integrity mid-run: tables are created before anything
// references them and dropped only after every reference is gone.
package diff

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"modelmigrate/internal/migration"
	"modelmigrate/internal/schema"
)

// ErrReferenceCycle marks a set of entities created (or dropped) in one
// diff whose reference fields form a cycle, leaving no valid creation
// order.
var ErrReferenceCycle = errors.New("reference cycle between entities")

// Options tunes a single diff pass.
type Options struct {
	// RenameHints maps entity -> old field name -> new field name.
	// Without a hint a rename is indistinguishable from remove+add and
	// is emitted as DropColumn+AddColumn; the column's data is lost.
	// That is the documented behavior, not a bug.
	RenameHints map[string]map[string]string
}

// Compute diffs previous against current and returns the operations
// bringing a database at previous to current. Both snapshots are left
// untouched.
//
// Ordering policy: CreateTable (parents first) -> AddColumn/RenameColumn/
// AlterColumn -> AddIndex/AddConstraint -> DropConstraint/DropIndex ->
// DropColumn -> DropTable (children first).
func Compute(previous, current schema.Snapshot, opts Options) ([]migration.Operation, error) {
	var creates, columns, adds, drops, colDrops, tableDrops []migration.Operation

	created := onlyIn(current, previous)
	dropped := onlyIn(previous, current)

	createOrder, err := orderByReferences(current, created, false)
	if err != nil {
		return nil, err
	}
	for _, name := range createOrder {
		e := current.Entities[name]
		creates = append(creates, migration.Operation{
			Kind:        migration.OpCreateTable,
			Entity:      name,
			Fields:      append([]schema.Field(nil), e.Fields...),
			Indexes:     append([]schema.Index(nil), e.Indexes...),
			Constraints: append([]schema.Constraint(nil), e.Constraints...),
		})
	}

	for _, name := range sharedEntities(previous, current) {
		prevE := previous.Entities[name]
		curE := current.Entities[name]
		hints := opts.RenameHints[name]

		cols, colAdds, colDropsHere := diffFields(prevE, curE, hints)
		columns = append(columns, cols...)
		columns = append(columns, colAdds...)
		colDrops = append(colDrops, colDropsHere...)

		ixAdds, ixDrops := diffIndexes(prevE, curE)
		cnAdds, cnDrops := diffConstraints(prevE, curE)
		adds = append(adds, ixAdds...)
		adds = append(adds, cnAdds...)
		// Drops mirror the add order reversed: a foreign key must go
		// before the index backing it.
		drops = append(drops, cnDrops...)
		drops = append(drops, ixDrops...)
	}

	dropOrder, err := orderByReferences(previous, dropped, true)
	if err != nil {
		return nil, err
	}
	for _, name := range dropOrder {
		e := previous.Entities[name]
		tableDrops = append(tableDrops, migration.Operation{
			Kind:        migration.OpDropTable,
			Entity:      name,
			Fields:      append([]schema.Field(nil), e.Fields...),
			Indexes:     append([]schema.Index(nil), e.Indexes...),
			Constraints: append([]schema.Constraint(nil), e.Constraints...),
		})
	}

	out := make([]migration.Operation, 0, len(creates)+len(columns)+len(adds)+len(drops)+len(colDrops)+len(tableDrops))
	out = append(out, creates...)
	out = append(out, columns...)
	out = append(out, adds...)
	out = append(out, drops...)
	out = append(out, colDrops...)
	out = append(out, tableDrops...)
	return out, nil
}

// diffFields compares the field lists of one entity present in both
// snapshots. Uniqueness and references are compared through derived
// constraints, not here.
func diffFields(prev, cur schema.Entity, hints map[string]string) (changes, adds, drops []migration.Operation) {
	renamedFrom := map[string]string{}
	for oldName, newName := range hints {
		_, hadOld := prev.Field(oldName)
		_, hasNew := cur.Field(newName)
		if hadOld && hasNew {
			renamedFrom[newName] = oldName
		}
	}

	for _, f := range sortedFields(cur) {
		oldName := f.Name
		if from, ok := renamedFrom[f.Name]; ok {
			oldName = from
			changes = append(changes, migration.Operation{
				Kind:    migration.OpRenameColumn,
				Entity:  cur.Name,
				OldName: from,
				NewName: f.Name,
			})
		}
		prevF, existed := prev.Field(oldName)
		if !existed {
			col := f
			adds = append(adds, migration.Operation{
				Kind:   migration.OpAddColumn,
				Entity: cur.Name,
				Column: &col,
			})
			continue
		}
		prevF.Name = f.Name // compare shape, not the pre-rename name
		if !schema.FieldsEqual(prevF, f) {
			col := f
			prior := prevF
			changes = append(changes, migration.Operation{
				Kind:   migration.OpAlterColumn,
				Entity: cur.Name,
				Column: &col,
				Prior:  &prior,
			})
		}
	}

	for _, f := range sortedFields(prev) {
		if isRenameSource(renamedFrom, f.Name) {
			continue
		}
		if _, still := cur.Field(f.Name); still {
			continue
		}
		col := f
		drops = append(drops, migration.Operation{
			Kind:   migration.OpDropColumn,
			Entity: cur.Name,
			Column: &col,
			Prior:  &col,
		})
	}
	return changes, adds, drops
}

func diffIndexes(prev, cur schema.Entity) (adds, drops []migration.Operation) {
	prevByName := map[string]schema.Index{}
	for _, ix := range prev.Indexes {
		prevByName[ix.Name] = ix
	}
	curByName := map[string]schema.Index{}
	for _, ix := range cur.Indexes {
		curByName[ix.Name] = ix
	}

	for _, name := range sortedNames(curByName) {
		ix := curByName[name]
		prevIx, existed := prevByName[name]
		if !existed {
			idx := ix
			adds = append(adds, migration.Operation{Kind: migration.OpAddIndex, Entity: cur.Name, Index: &idx})
			continue
		}
		if !indexesEqual(prevIx, ix) {
			// Replacement keeps the name, so the drop must precede the
			// re-add; both land in the add bucket as an adjacent pair.
			old := prevIx
			idx := ix
			adds = append(adds,
				migration.Operation{Kind: migration.OpDropIndex, Entity: cur.Name, Index: &old},
				migration.Operation{Kind: migration.OpAddIndex, Entity: cur.Name, Index: &idx},
			)
		}
	}
	for _, name := range sortedNames(prevByName) {
		if _, still := curByName[name]; still {
			continue
		}
		old := prevByName[name]
		drops = append(drops, migration.Operation{Kind: migration.OpDropIndex, Entity: cur.Name, Index: &old})
	}
	return adds, drops
}

func diffConstraints(prev, cur schema.Entity) (adds, drops []migration.Operation) {
	prevByName := map[string]schema.Constraint{}
	for _, cn := range schema.DerivedConstraints(prev) {
		prevByName[cn.Name] = cn
	}
	curByName := map[string]schema.Constraint{}
	for _, cn := range schema.DerivedConstraints(cur) {
		curByName[cn.Name] = cn
	}

	for _, name := range sortedNames(curByName) {
		cn := curByName[name]
		prevCn, existed := prevByName[name]
		if !existed {
			c := cn
			adds = append(adds, migration.Operation{Kind: migration.OpAddConstraint, Entity: cur.Name, Constraint: &c})
			continue
		}
		if !constraintsEqual(prevCn, cn) {
			old := prevCn
			c := cn
			adds = append(adds,
				migration.Operation{Kind: migration.OpDropConstraint, Entity: cur.Name, Constraint: &old},
				migration.Operation{Kind: migration.OpAddConstraint, Entity: cur.Name, Constraint: &c},
			)
		}
	}
	for _, name := range sortedNames(prevByName) {
		if _, still := curByName[name]; still {
			continue
		}
		old := prevByName[name]
		drops = append(drops, migration.Operation{Kind: migration.OpDropConstraint, Entity: cur.Name, Constraint: &old})
	}
	return adds, drops
}

// orderByReferences linearizes the given entity set so that referenced
// entities come before referencing ones, or the reverse for drops.
// Only references inside the set constrain the order; ties break
// lexically so the result is deterministic.
func orderByReferences(snap schema.Snapshot, names []string, reverse bool) ([]string, error) {
	inSet := map[string]bool{}
	for _, n := range names {
		inSet[n] = true
	}

	indegree := map[string]int{}
	dependents := map[string][]string{}
	for _, n := range names {
		indegree[n] += 0
		for _, target := range referenceTargets(snap.Entities[n]) {
			if target == n || !inSet[target] {
				continue
			}
			// n needs target in place first.
			indegree[n]++
			dependents[target] = append(dependents[target], n)
		}
	}

	var ready []string
	for n, deg := range indegree {
		if deg == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	var ordered []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		ordered = append(ordered, n)
		released := false
		for _, dep := range dependents[n] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}
	if len(ordered) != len(names) {
		var stuck []string
		for n, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, n)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrReferenceCycle, strings.Join(stuck, ", "))
	}

	if reverse {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}
	return ordered, nil
}

func referenceTargets(e schema.Entity) []string {
	var out []string
	for _, f := range e.Fields {
		if f.Type == schema.TypeReference {
			out = append(out, f.References)
		}
	}
	for _, cn := range e.Constraints {
		if cn.Kind == schema.ConstraintForeignKey {
			out = append(out, cn.RefEntity)
		}
	}
	return out
}

func indexesEqual(a, b schema.Index) bool {
	if a.Unique != b.Unique || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	return true
}

func constraintsEqual(a, b schema.Constraint) bool {
	if a.Kind != b.Kind || a.RefEntity != b.RefEntity || a.RefColumn != b.RefColumn || a.OnDelete != b.OnDelete {
		return false
	}
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	return true
}

func isRenameSource(renamedFrom map[string]string, name string) bool {
	for _, from := range renamedFrom {
		if from == name {
			return true
		}
	}
	return false
}

func onlyIn(a, b schema.Snapshot) []string {
	var out []string
	for _, name := range a.EntityNames() {
		if _, ok := b.Entities[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

func sharedEntities(a, b schema.Snapshot) []string {
	var out []string
	for _, name := range a.EntityNames() {
		if _, ok := b.Entities[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func sortedFields(e schema.Entity) []schema.Field {
	out := append([]schema.Field(nil), e.Fields...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a human-readable plan summary, one operation per line.
func Describe(ops []migration.Operation) string {
	if len(ops) == 0 {
		return "schemas match"
	}
	lines := make([]string, 0, len(ops))
	for _, op := range ops {
		lines = append(lines, op.Describe())
	}
	return strings.Join(lines, "\n")
}
