// Package graph builds a directed acyclic dependency graph from a needed set
// of tasks (spec.md §4.1). It is grounded on the teacher's
// internal/dag/taskgraph.go: canonical node ordering, sorted adjacency
// lists, a min-heap-driven Kahn's algorithm for deterministic traversal, and
// a longest-path depth computation — which here directly produces the
// "execution levels" spec.md §4.1 requires, rather than the teacher's
// content-hash graph identity (not needed by this spec).
package graph

import (
	"container/heap"
	"sort"

	"github.com/scriptweaver/zr/internal/task"
)

// Graph is an immutable, validated DAG over a needed set of tasks. Only
// Deps edges participate; DepsSerial is excluded by design (spec.md §4.1).
type Graph struct {
	names    []string       // canonical order (sorted by name)
	index    map[string]int // name -> canonical index
	outgoing [][]int        // dependant -> prerequisite indices (edge u->v: u depends on v)
	incoming [][]int        // prerequisite -> dependant indices
	indeg    []int
}

// Build constructs a Graph over exactly the tasks in `needed` (by name,
// resolved against `all`). It validates acyclicity immediately and returns a
// *task.CycleError (via errors.As) carrying the offending node set on
// failure, satisfying spec.md §8's "no child processes are spawned" rule —
// Build never spawns anything, it only validates structure.
func Build(all map[string]*task.Task, needed []string) (*Graph, error) {
	names := append([]string(nil), needed...)
	sort.Strings(names)

	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}

	outgoing := make([][]int, len(names))
	incoming := make([][]int, len(names))
	indeg := make([]int, len(names))

	for _, n := range names {
		t, ok := all[n]
		if !ok {
			continue // caller guarantees needed ⊆ all; defensive no-op otherwise
		}
		u := index[n]
		deps := append([]string(nil), t.Deps...)
		sort.Strings(deps)
		for _, d := range deps {
			v, ok := index[d]
			if !ok {
				continue // not in the needed set; caller's closure computation is responsible for completeness
			}
			outgoing[u] = append(outgoing[u], v)
			incoming[v] = append(incoming[v], u)
			indeg[u]++
		}
	}

	g := &Graph{names: names, index: index, outgoing: outgoing, incoming: incoming, indeg: indeg}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// intMinHeap gives deterministic traversal order independent of map
// iteration, mirroring the teacher's validate.go.
type intMinHeap []int

func (h intMinHeap) Len() int            { return len(h) }
func (h intMinHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (g *Graph) validateAcyclic() error {
	order := g.kahnOrder(append([]int(nil), g.indeg...))
	if len(order) == len(g.names) {
		return nil
	}

	// Some nodes retain positive in-degree: everything not in `order` is
	// part of (or downstream of) a cycle. Report that whole set, per
	// spec.md §4.1 ("CycleError carrying the offending node set").
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		seen[idx] = true
	}
	var offending []string
	for i, name := range g.names {
		if !seen[i] {
			offending = append(offending, name)
		}
	}
	return task.NewCycleError(offending)
}

// kahnOrder runs Kahn's algorithm over a caller-owned in-degree slice
// (indeg[u] = number of u's unresolved prerequisites, i.e. len(outgoing[u])
// edges not yet "removed"). Removing ready node u means decrementing the
// in-degree of every dependant d with u among its prerequisites, i.e. every
// d in incoming[u]. Returns however many indices it could order: a full
// order iff the graph is acyclic.
func (g *Graph) kahnOrder(indeg []int) []int {
	ready := &intMinHeap{}
	heap.Init(ready)
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		order = append(order, u)
		for _, d := range g.incoming[u] {
			indeg[d]--
			if indeg[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}
	return order
}

// Levels returns the layered topological order of spec.md §4.1: level 0
// holds every node with zero unresolved dependencies; level N holds nodes
// whose dependencies all lie in levels < N. Within a level, names are sorted
// for determinism (ordering within a level is not observable to correct
// users, per spec.md §4.1).
func (g *Graph) Levels() [][]string {
	depth := make([]int, len(g.names))
	order := g.kahnOrder(append([]int(nil), g.indeg...))

	for _, u := range order {
		maxPrereq := -1
		for _, v := range g.outgoing[u] {
			if depth[v] > maxPrereq {
				maxPrereq = depth[v]
			}
		}
		depth[u] = maxPrereq + 1
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for i, name := range g.names {
		levels[depth[i]] = append(levels[depth[i]], name)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels
}

// Names returns the needed set's task names in canonical (sorted) order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.names...)
}
