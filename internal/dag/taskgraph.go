package dag

import (
	"sort"

	"dagweaver/internal/core"
)

// Edge represents a dependency relation: To depends on From, so To can only
// run after From succeeds.
type Edge struct {
	From string
	To   string
}

// TaskNode is an immutable node in the TaskGraph.
type TaskNode struct {
	Name           string
	Task           core.UnitTask
	canonicalIndex int
}

// CanonicalIndex returns the node's deterministic position in the graph's
// canonical (name-sorted) ordering.
func (n *TaskNode) CanonicalIndex() int { return n.canonicalIndex }

// TaskGraph is an immutable, validated DAG of unit tasks.
//
// It is safe for concurrent read access.
type TaskGraph struct {
	nodesByName map[string]*TaskNode
	nodes       []*TaskNode // canonical order

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	depth    []int   // topological depth by canonical index
}

// NewTaskGraph builds and validates a TaskGraph.
//
// Validation runs immediately and rejects:
//   - empty task sets, empty or duplicate task names
//   - edges referencing unknown tasks
//   - duplicate edges and self-loops
//   - any cycle (direct or indirect)
func NewTaskGraph(tasks []core.UnitTask, edges []Edge) (*TaskGraph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	nodesByName := make(map[string]*TaskNode, len(tasks))
	nodes := make([]*TaskNode, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			return nil, invalidf("nil task")
		}
		name := t.Name()
		if name == "" {
			return nil, invalidf("task name is required")
		}
		if _, exists := nodesByName[name]; exists {
			return nil, invalidf("duplicate task name: %q", name)
		}
		node := &TaskNode{Name: name, Task: t}
		nodesByName[name] = node
		nodes = append(nodes, node)
	}

	// Canonical order: by name. The scheduler's determinism depends on it.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	seen := make(map[[2]int]bool, len(edges))
	for _, e := range edges {
		from, ok := nodesByName[e.From]
		if !ok {
			return nil, invalidf("edge references unknown task: %q", e.From)
		}
		to, ok := nodesByName[e.To]
		if !ok {
			return nil, invalidf("edge references unknown task: %q", e.To)
		}
		if from == to {
			return nil, invalidf("self-loop on task: %q", e.From)
		}
		key := [2]int{from.canonicalIndex, to.canonicalIndex}
		if seen[key] {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[key] = true
		outgoing[from.canonicalIndex] = append(outgoing[from.canonicalIndex], to.canonicalIndex)
		incoming[to.canonicalIndex] = append(incoming[to.canonicalIndex], from.canonicalIndex)
	}
	for i := range nodes {
		sort.Ints(outgoing[i])
		sort.Ints(incoming[i])
	}

	depth, err := computeDepths(nodes, outgoing, incoming)
	if err != nil {
		return nil, err
	}

	return &TaskGraph{
		nodesByName: nodesByName,
		nodes:       nodes,
		outgoing:    outgoing,
		incoming:    incoming,
		depth:       depth,
	}, nil
}

// computeDepths runs Kahn's algorithm in canonical order, yielding the
// topological depth of every node and detecting cycles.
func computeDepths(nodes []*TaskNode, outgoing, incoming [][]int) ([]int, error) {
	indeg := make([]int, len(nodes))
	depth := make([]int, len(nodes))
	queue := make([]int, 0, len(nodes))
	for i := range nodes {
		indeg[i] = len(incoming[i])
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}

	processed := 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		processed++
		for _, v := range outgoing[u] {
			if d := depth[u] + 1; d > depth[v] {
				depth[v] = d
			}
			indeg[v]--
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}

	if processed != len(nodes) {
		var cyclic []string
		for i, n := range nodes {
			if indeg[i] > 0 {
				cyclic = append(cyclic, n.Name)
			}
		}
		return nil, cycleError(cyclic)
	}
	return depth, nil
}

// Names returns all task names in canonical order.
func (g *TaskGraph) Names() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Name
	}
	return out
}

// Node returns the node for name, if present.
func (g *TaskGraph) Node(name string) (*TaskNode, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Depth returns the topological depth of name.
func (g *TaskGraph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

// Len returns the number of nodes.
func (g *TaskGraph) Len() int { return len(g.nodes) }
