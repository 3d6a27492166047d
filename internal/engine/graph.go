package engine

import (
	"fmt"
)

// EdgeCloser is the part of an edge the graph needs for teardown. Both
// bounded queues and sync queues satisfy it.
type EdgeCloser interface {
	Close()
}

// edgeRec records one edge's topology for validation and teardown.
type edgeRec struct {
	id     string
	from   string
	to     []string
	closer EdgeCloser
}

// Graph is the immutable stage/queue topology for one run. It is assembled
// by a builder before execution and validated once; stages and edges are
// never added while the graph runs.
type Graph struct {
	stages []Stage
	byID   map[string]Stage
	edges  []edgeRec

	// sinks maps each stage to the mux stages reachable from it, computed
	// during validation and used for the partial-failure policy.
	sinks map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		byID:  make(map[string]Stage),
		sinks: make(map[string][]string),
	}
}

// AddStage registers a stage. Stage IDs must be unique.
func (g *Graph) AddStage(st Stage) error {
	if _, ok := g.byID[st.ID()]; ok {
		return Structuralf("duplicate stage id %q", st.ID())
	}
	g.stages = append(g.stages, st)
	g.byID[st.ID()] = st
	return nil
}

// AddEdge records a queue connecting producer from to one or more consumer
// stages. Every edge has exactly one producer, bound here at construction.
func (g *Graph) AddEdge(id, from string, to []string, closer EdgeCloser) {
	g.edges = append(g.edges, edgeRec{id: id, from: from, to: to, closer: closer})
}

// Stages returns the registered stages in registration order.
func (g *Graph) Stages() []Stage {
	return g.stages
}

// Stage returns a stage by ID.
func (g *Graph) Stage(id string) (Stage, bool) {
	st, ok := g.byID[id]
	return st, ok
}

// Validate checks the structural invariants: all edge endpoints exist,
// every stage is connected consistently with its kind, and the stage
// topology is acyclic. It also computes sink reachability.
func (g *Graph) Validate() error {
	if len(g.stages) == 0 {
		return Structuralf("graph has no stages")
	}

	adj := make(map[string][]string, len(g.stages))
	for _, e := range g.edges {
		if _, ok := g.byID[e.from]; !ok {
			return Structuralf("edge %q has unknown producer %q", e.id, e.from)
		}
		if len(e.to) == 0 {
			return Structuralf("edge %q has no consumers", e.id)
		}
		for _, to := range e.to {
			if _, ok := g.byID[to]; !ok {
				return Structuralf("edge %q has unknown consumer %q", e.id, to)
			}
			if to == e.from {
				return Structuralf("edge %q connects stage %q to itself", e.id, e.from)
			}
			adj[e.from] = append(adj[e.from], to)
		}
	}

	if cycle := findCycle(adj); cycle != "" {
		return Structuralf("graph contains a cycle through stage %q", cycle)
	}

	for _, st := range g.stages {
		g.sinks[st.ID()] = reachableSinks(g, adj, st.ID())
		if st.Kind() == KindMux {
			continue
		}
		if len(g.sinks[st.ID()]) == 0 {
			return Structuralf("stage %q reaches no output stage", st.ID())
		}
	}
	return nil
}

// SinksOf returns the mux stages reachable from stage id. Valid after
// Validate.
func (g *Graph) SinksOf(id string) []string {
	return g.sinks[id]
}

// MuxStages returns the IDs of all mux stages.
func (g *Graph) MuxStages() []string {
	var out []string
	for _, st := range g.stages {
		if st.Kind() == KindMux {
			out = append(out, st.ID())
		}
	}
	return out
}

// CloseEdges abandons every edge in the graph, waking all blocked stages.
func (g *Graph) CloseEdges() {
	for _, e := range g.edges {
		e.closer.Close()
	}
}

// findCycle returns the ID of a stage on a cycle, or "".
func findCycle(adj map[string][]string) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, next := range adj[id] {
			if hit := visit(next); hit != "" {
				return hit
			}
		}
		state[id] = done
		return ""
	}

	for id := range adj {
		if hit := visit(id); hit != "" {
			return hit
		}
	}
	return ""
}

// reachableSinks collects the mux stages reachable from start.
func reachableSinks(g *Graph, adj map[string][]string, start string) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		if st := g.byID[id]; st != nil && st.Kind() == KindMux {
			out = append(out, id)
		}
		for _, next := range adj[id] {
			walk(next)
		}
	}
	walk(start)
	return out
}

// describe returns a short topology summary for logs.
func (g *Graph) describe() string {
	return fmt.Sprintf("%d stages, %d edges, %d outputs", len(g.stages), len(g.edges), len(g.MuxStages()))
}
