// Package graph builds adjacency representations of a workflow's steps and
// connections and answers topology questions: upstream/downstream sets,
// topological order, cycle detection, and execution-subgraph extraction.
//
// Grounded on the cycle-detection and Kahn's-algorithm topological sort in
// evalgo-org-eve/graph/dag.go, generalized from a single-action dependency
// check to a whole-workflow DAG.
package graph

import (
	"fmt"

	"github.com/coflow/coflow/pkg/domain/workflow"
)

// Graph is an adjacency-list view over a step/connection set.
type Graph struct {
	stepIDs     map[string]bool
	forward     map[string][]edge // step id -> outgoing edges
	backward    map[string][]edge // step id -> incoming edges
	invalidEdges []workflow.Connection
}

type edge struct {
	to   string
	from string
	conn workflow.Connection
}

// ErrCycleDetected is returned by TopologicalSort when the graph is cyclic.
type ErrCycleDetected struct {
	Witness []string // the cycle, in traversal order
}

func (e *ErrCycleDetected) Error() string {
	return fmt.Sprintf("cycle_detected: %v", e.Witness)
}

// Build constructs a Graph from a step list and connection list. Connections
// whose endpoints are not present in the step set are rejected and returned
// separately as InvalidEdges(); they are not added to the adjacency lists.
func Build(steps []workflow.Step, connections []workflow.Connection) *Graph {
	g := &Graph{
		stepIDs:  make(map[string]bool, len(steps)),
		forward:  make(map[string][]edge),
		backward: make(map[string][]edge),
	}
	for _, s := range steps {
		g.stepIDs[s.ID] = true
	}
	for _, c := range connections {
		if !g.stepIDs[c.SourceStepID] || !g.stepIDs[c.TargetStepID] {
			g.invalidEdges = append(g.invalidEdges, c)
			continue
		}
		e := edge{to: c.TargetStepID, from: c.SourceStepID, conn: c}
		g.forward[c.SourceStepID] = append(g.forward[c.SourceStepID], e)
		g.backward[c.TargetStepID] = append(g.backward[c.TargetStepID], e)
	}
	return g
}

// InvalidEdges returns connections whose endpoints were not in the step set.
func (g *Graph) InvalidEdges() []workflow.Connection {
	return g.invalidEdges
}

// HasStep reports whether id is a vertex of this graph.
func (g *Graph) HasStep(id string) bool { return g.stepIDs[id] }

// Children returns the direct outgoing connections of id.
func (g *Graph) Children(id string) []workflow.Connection {
	edges := g.forward[id]
	out := make([]workflow.Connection, len(edges))
	for i, e := range edges {
		out[i] = e.conn
	}
	return out
}

// Parents returns the direct incoming connections of id, in the order they
// were inserted (insertion order matters for non-merge auto-join zipping).
func (g *Graph) Parents(id string) []workflow.Connection {
	edges := g.backward[id]
	out := make([]workflow.Connection, len(edges))
	for i, e := range edges {
		out[i] = e.conn
	}
	return out
}

// Upstream returns the set of transitive ancestors of id, excluding id.
func (g *Graph) Upstream(id string) map[string]bool {
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, e := range g.backward[cur] {
			if !visited[e.from] {
				visited[e.from] = true
				walk(e.from)
			}
		}
	}
	walk(id)
	return visited
}

// Downstream returns the set of transitive descendants of id, excluding id.
func (g *Graph) Downstream(id string) map[string]bool {
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, e := range g.forward[cur] {
			if !visited[e.to] {
				visited[e.to] = true
				walk(e.to)
			}
		}
	}
	walk(id)
	return visited
}

// color states for DFS-based cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully explored
)

// detectCycle runs DFS white/gray/black coloring and returns the first back
// edge's witness cycle, if any.
func (g *Graph) detectCycle() []string {
	colors := make(map[string]color, len(g.stepIDs))
	parent := make(map[string]string)
	var cycle []string

	var visit func(string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, e := range g.forward[id] {
			switch colors[e.to] {
			case white:
				parent[e.to] = id
				if visit(e.to) {
					return true
				}
			case gray:
				// back edge id -> e.to: reconstruct the cycle e.to -> ... -> id -> e.to
				cycle = nil
				cur := id
				for cur != e.to {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, e.to)
				reverse(cycle)
				cycle = append(cycle, e.to)
				return true
			}
		}
		colors[id] = black
		return false
	}

	ids := make([]string, 0, len(g.stepIDs))
	for id := range g.stepIDs {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if colors[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// TopologicalSort returns a linear order consistent with the edges, using
// Kahn's algorithm (queue of zero-in-degree vertices), or ErrCycleDetected
// with a witness cycle if the graph is cyclic.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.stepIDs))
	for id := range g.stepIDs {
		inDegree[id] = 0
	}
	for _, edges := range g.forward {
		for _, e := range edges {
			inDegree[e.to]++
		}
	}

	queue := make([]string, 0)
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	order := make([]string, 0, len(g.stepIDs))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, e := range g.forward[id] {
			inDegree[e.to]--
			if inDegree[e.to] == 0 {
				queue = append(queue, e.to)
			}
		}
	}

	if len(order) != len(g.stepIDs) {
		witness := g.detectCycle()
		return nil, &ErrCycleDetected{Witness: witness}
	}
	return order, nil
}

// Levels groups TopologicalSort's order into waves of mutually independent
// vertices (no vertex in a wave is an ancestor of another in the same
// wave), suitable for level-parallel execution (§5 "concurrent steps at the
// same topological level run in parallel"). Returns ErrCycleDetected under
// the same conditions as TopologicalSort.
func (g *Graph) Levels() ([][]string, error) {
	inDegree := make(map[string]int, len(g.stepIDs))
	for id := range g.stepIDs {
		inDegree[id] = 0
	}
	for _, edges := range g.forward {
		for _, e := range edges {
			inDegree[e.to]++
		}
	}

	var frontier []string
	for id, d := range inDegree {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}

	var levels [][]string
	visited := 0
	for len(frontier) > 0 {
		levels = append(levels, frontier)
		visited += len(frontier)
		var next []string
		for _, id := range frontier {
			for _, e := range g.forward[id] {
				inDegree[e.to]--
				if inDegree[e.to] == 0 {
					next = append(next, e.to)
				}
			}
		}
		frontier = next
	}

	if visited != len(g.stepIDs) {
		return nil, &ErrCycleDetected{Witness: g.detectCycle()}
	}
	return levels, nil
}

// SubgraphOptions controls ExecutionSubgraph behavior.
type SubgraphOptions struct {
	// Exclude removes these vertices and their outgoing edges.
	Exclude map[string]bool
	// IncludeTargets controls whether target vertices are kept when their
	// only parents are excluded.
	IncludeTargets bool
}

// ExecutionSubgraph restricts the graph to the ancestors of targets (plus the
// targets themselves, subject to IncludeTargets), applying Exclude first.
func (g *Graph) ExecutionSubgraph(targets []string, opts SubgraphOptions) *Graph {
	keep := make(map[string]bool)
	for _, t := range targets {
		if opts.Exclude[t] {
			continue
		}
		for a := range g.Upstream(t) {
			if !opts.Exclude[a] {
				keep[a] = true
			}
		}
		if !opts.IncludeTargets && len(g.backward[t]) > 0 {
			onlyExcluded := true
			for _, e := range g.backward[t] {
				if !opts.Exclude[e.from] {
					onlyExcluded = false
				}
			}
			if onlyExcluded {
				continue
			}
		}
		keep[t] = true
	}

	steps := make([]workflow.Step, 0, len(keep))
	for id := range keep {
		steps = append(steps, workflow.Step{ID: id})
	}
	conns := make([]workflow.Connection, 0)
	for from, edges := range g.forward {
		if !keep[from] {
			continue
		}
		for _, e := range edges {
			if keep[e.to] {
				conns = append(conns, e.conn)
			}
		}
	}
	return Build(steps, conns)
}

// StepIDs returns all vertex ids present in the graph, unordered.
func (g *Graph) StepIDs() []string {
	out := make([]string, 0, len(g.stepIDs))
	for id := range g.stepIDs {
		out = append(out, id)
	}
	return out
}

// WouldCreateCycle reports whether adding a proposed edge (from -> to) would
// introduce a cycle, without mutating the graph. Used to validate
// add_connection operations before they are committed.
func WouldCreateCycle(steps []workflow.Step, connections []workflow.Connection, from, to string) bool {
	candidate := append(append([]workflow.Connection{}, connections...), workflow.Connection{
		SourceStepID: from, TargetStepID: to,
	})
	g := Build(steps, candidate)
	_, err := g.TopologicalSort()
	return err != nil
}
