// Package resolver orders migration records against their declared
// dependencies. The order is total and deterministic: ties between
// records with no relative dependency are broken by creation identifier,
// so every environment applies the same sequence.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"modelmigrate/internal/migration"
)

// ErrCyclicDependency marks a dependency graph that cannot be linearized.
var ErrCyclicDependency = errors.New("cyclic dependency")

// ErrUnknownDependency marks a record depending on an identifier that is
// not part of the input set.
var ErrUnknownDependency = errors.New("unknown dependency")

// ErrDuplicateRecord marks two input records sharing an identifier.
var ErrDuplicateRecord = errors.New("duplicate record id")

// CycleError names the records forming a dependency cycle.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrCyclicDependency }

// Resolve returns the record identifiers in application order using
// Kahn's algorithm. Input ordering is irrelevant: the same set of
// records always produces the same sequence.
func Resolve(records []migration.Record) ([]string, error) {
	byID := make(map[string]migration.Record, len(records))
	for _, rec := range records {
		// A collapsed duplicate would otherwise surface as a bogus
		// cycle report.
		if _, dup := byID[rec.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID)
		}
		byID[rec.ID] = rec
	}

	indegree := make(map[string]int, len(records))
	dependents := make(map[string][]string, len(records))
	for _, rec := range records {
		if _, ok := indegree[rec.ID]; !ok {
			indegree[rec.ID] = 0
		}
		for _, dep := range rec.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("record %s: %w: %s", rec.ID, ErrUnknownDependency, dep)
			}
			indegree[rec.ID]++
			dependents[dep] = append(dependents[dep], rec.ID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	ordered := make([]string, 0, len(records))
	for len(ready) > 0 {
		// Lowest identifier first; identifiers encode creation order.
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		released := false
		for _, dep := range dependents[next] {
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

	if len(ordered) != len(records) {
		return nil, findCycle(byID, indegree)
	}
	return ordered, nil
}

// findCycle walks the records left with positive indegree to report one
// concrete cycle rather than just the fact of one.
func findCycle(byID map[string]migration.Record, indegree map[string]int) error {
	remaining := map[string]bool{}
	for id, deg := range indegree {
		if deg > 0 {
			remaining[id] = true
		}
	}

	var start string
	for id := range remaining {
		if start == "" || id < start {
			start = id
		}
	}

	seen := map[string]int{}
	path := []string{}
	cur := start
	for {
		if pos, ok := seen[cur]; ok {
			cycle := append([]string{}, path[pos:]...)
			cycle = append(cycle, cur)
			return &CycleError{Cycle: cycle}
		}
		seen[cur] = len(path)
		path = append(path, cur)

		// Follow the smallest unresolved dependency for determinism.
		next := ""
		for _, dep := range byID[cur].DependsOn {
			if remaining[dep] && (next == "" || dep < next) {
				next = dep
			}
		}
		if next == "" {
			// Should not happen: every remaining record has an
			// unresolved dependency by construction.
			return &CycleError{Cycle: path}
		}
		cur = next
	}
}
