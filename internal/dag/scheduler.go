package dag

import "sort"

// GetReadyTasks returns the deterministically ordered list of task names
// eligible to run.
//
// A task is ready iff it is PENDING and all of its dependencies are
// SUCCEEDED. The list is sorted by (topological depth asc, name asc).
//
// This function is pure: it mutates neither graph nor state.
func GetReadyTasks(g *TaskGraph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, node := range g.nodes {
		st, ok := state[node.Name]
		if !ok || st != StatePending {
			continue
		}

		depsOK := true
		for _, parentIdx := range g.incoming[node.canonicalIndex] {
			if state[g.nodes[parentIdx].Name] != StateSucceeded {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, node.Name)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})

	return ready
}
