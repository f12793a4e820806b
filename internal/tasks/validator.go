package tasks

import (
	"fmt"
	"strings"
)

// maxCycleBreaks caps cycle-fix iterations; a graph still cyclic after
// this many repairs is left for strict validation to reject
const maxCycleBreaks = 10

// FixTasks repairs a task list in place and returns human-readable
// warnings describing each repair. It never fails on a fixable defect.
//
// Three passes run in order: orphan-dependency removal, cycle breaking,
// and final-task closure.
func FixTasks(list []*Task) []string {
	var warnings []string
	warnings = append(warnings, fixOrphans(list)...)
	warnings = append(warnings, fixCycles(list)...)
	warnings = append(warnings, fixFinalTasks(list)...)
	return warnings
}

// fixOrphans removes dependency entries that do not name a task in the
// same list. Duplicate entries referencing real tasks are tolerated.
func fixOrphans(list []*Task) []string {
	known := make(map[string]bool, len(list))
	for _, t := range list {
		known[t.ID] = true
	}

	var warnings []string
	for _, t := range list {
		kept := t.Dependencies[:0]
		removed := 0
		for _, dep := range t.Dependencies {
			if known[dep] {
				kept = append(kept, dep)
			} else {
				removed++
			}
		}
		t.Dependencies = kept
		if removed > 0 {
			warnings = append(warnings, fmt.Sprintf("Removed %d invalid %s from '%s'",
				removed, plural(removed, "dependency", "dependencies"), t.Name))
		}
	}
	return warnings
}

// dfs colors for cycle detection
const (
	white = 0 // unvisited
	gray  = 1 // on current path
	black = 2 // finished
)

// fixCycles repeatedly finds one cycle and removes its closing edge,
// the one from cycle[len-2] to cycle[len-1], until the graph is acyclic
// or the iteration cap is reached
func fixCycles(list []*Task) []string {
	byID := make(map[string]*Task, len(list))
	for _, t := range list {
		byID[t.ID] = t
	}

	var warnings []string
	for i := 0; i < maxCycleBreaks; i++ {
		cycle := findCycle(list, byID)
		if cycle == nil {
			break
		}

		from := byID[cycle[len(cycle)-2]]
		to := byID[cycle[len(cycle)-1]]
		removeDependency(from, to.ID)
		warnings = append(warnings, fmt.Sprintf(
			"Broke circular dependency: removed link from '%s' to '%s'", from.Name, to.Name))
	}
	return warnings
}

// findCycle runs a three-color depth-first search over the dependency
// edges and returns the first cycle as [A, B, ..., A], or nil
func findCycle(list []*Task, byID map[string]*Task) []string {
	color := make(map[string]int, len(list))

	var path []string
	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)

		t := byID[id]
		for _, dep := range t.Dependencies {
			d, ok := byID[dep]
			if !ok {
				continue
			}
			switch color[d.ID] {
			case gray:
				// Slice the current path from the gray node onward and
				// close the loop by appending it again
				for i, p := range path {
					if p == d.ID {
						cycle := append([]string{}, path[i:]...)
						return append(cycle, d.ID)
					}
				}
			case white:
				if cycle := visit(d.ID); cycle != nil {
					return cycle
				}
			}
		}

		color[id] = black
		path = path[:len(path)-1]
		return nil
	}

	for _, t := range list {
		if color[t.ID] == white {
			path = path[:0]
			if cycle := visit(t.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// removeDependency drops every occurrence of depID from t's dependency
// list, keeping DependencyTypes aligned when present
func removeDependency(t *Task, depID string) {
	kept := t.Dependencies[:0]
	var keptTypes []DependencyType
	for i, dep := range t.Dependencies {
		if dep == depID {
			continue
		}
		kept = append(kept, dep)
		if i < len(t.DependencyTypes) {
			keptTypes = append(keptTypes, t.DependencyTypes[i])
		}
	}
	t.Dependencies = kept
	if t.DependencyTypes != nil {
		t.DependencyTypes = keptTypes
	}
}

// fixFinalTasks gives every dependency-less final task an edge to each
// implementation task so end-of-project work runs last
func fixFinalTasks(list []*Task) []string {
	var implIDs []string
	var finals []*Task
	for _, t := range list {
		if t.IsFinalTask() {
			finals = append(finals, t)
		} else if t.IsImplementationTask() {
			implIDs = append(implIDs, t.ID)
		}
	}
	if len(implIDs) == 0 || len(finals) == 0 {
		return nil
	}

	var warnings []string
	for _, f := range finals {
		if len(f.Dependencies) > 0 {
			continue
		}
		f.Dependencies = append([]string{}, implIDs...)
		warnings = append(warnings, fmt.Sprintf(
			"Added %d implementation task %s to '%s' to ensure it runs last",
			len(implIDs), plural(len(implIDs), "dependency", "dependencies"), f.Name))
	}
	return warnings
}

// ValidateStrict rejects any of the three defect classes without
// repairing. Used by tests and diagnostic tooling.
func ValidateStrict(list []*Task) error {
	known := make(map[string]*Task, len(list))
	for _, t := range list {
		known[t.ID] = t
	}

	for _, t := range list {
		for _, dep := range t.Dependencies {
			if _, ok := known[dep]; !ok {
				return fmt.Errorf("task '%s' depends on unknown task %s", t.Name, dep)
			}
		}
	}

	if cycle := findCycle(list, known); cycle != nil {
		return fmt.Errorf("circular dependency: %s", strings.Join(cycle, " -> "))
	}

	hasImpl := false
	for _, t := range list {
		if !t.IsFinalTask() && t.IsImplementationTask() {
			hasImpl = true
			break
		}
	}
	if hasImpl {
		for _, t := range list {
			if t.IsFinalTask() && len(t.Dependencies) == 0 {
				return fmt.Errorf("final task '%s' has no dependencies", t.Name)
			}
		}
	}
	return nil
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
