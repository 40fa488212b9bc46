package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Graph is the dependency topology of a descriptor. Every query returns ids
// in declaration order. All operations are concurrency-safe.
type Graph struct {
	// mutex protects the nodes map during concurrent access.
	mutex sync.RWMutex
	// nodes stores all vertices keyed by id.
	nodes map[string]*vertex
}

// vertex is un-exported so the graph is only used through string ids.
type vertex struct {
	id         string
	order      int
	deps       map[string]*vertex
	dependents map[string]*vertex
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*vertex)}
}

// Build creates the topology of d. The descriptor is expected to have
// passed Validate; Build only reports edges it cannot create.
func Build(d Descriptor) (*Graph, error) {
	g := New()
	for _, n := range d.Nodes {
		g.AddNode(n.ID)
	}
	for _, n := range d.Nodes {
		for _, dep := range n.DependsOn {
			if err := g.AddEdge(dep, n.ID); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// AddNode adds a vertex. Adding an existing id does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &vertex{
		id:         id,
		order:      len(g.nodes),
		deps:       make(map[string]*vertex),
		dependents: make(map[string]*vertex),
	}
}

// AddEdge records that toID depends on fromID.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	from, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	to, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	to.deps[fromID] = from
	from.dependents[toID] = to
	return nil
}

// Has reports whether id is a vertex of the graph.
func (g *Graph) Has(id string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of vertices.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// IDs returns every vertex id in declaration order.
func (g *Graph) IDs() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	all := make([]*vertex, 0, len(g.nodes))
	for _, v := range g.nodes {
		all = append(all, v)
	}
	return ordered(all)
}

// Dependencies returns the ids id depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	v, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return orderedSet(v.deps), nil
}

// Dependents returns the ids that depend on id.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	v, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return orderedSet(v.dependents), nil
}

// Ancestors returns every transitive dependency of id.
func (g *Graph) Ancestors(id string) ([]string, error) {
	return g.walk(id, func(v *vertex) map[string]*vertex { return v.deps })
}

// Descendants returns every transitive dependent of id.
func (g *Graph) Descendants(id string) ([]string, error) {
	return g.walk(id, func(v *vertex) map[string]*vertex { return v.dependents })
}

func (g *Graph) walk(id string, next func(*vertex) map[string]*vertex) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	start, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	seen := make(map[string]*vertex)
	stack := []*vertex{start}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for nid, n := range next(v) {
			if _, ok := seen[nid]; ok || nid == id {
				continue
			}
			seen[nid] = n
			stack = append(stack, n)
		}
	}
	return orderedSet(seen), nil
}

// TopologicalOrder returns an order in which every node follows all of its
// dependencies, breaking ties by declaration order. It fails when the graph
// contains a cycle, naming every node that could not be ordered.
func (g *Graph) TopologicalOrder() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	var order []string
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}

// Levels groups nodes into topological generations: level 0 holds the
// roots, level n the nodes whose deepest dependency sits in level n-1.
func (g *Graph) Levels() ([][]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	var current []*vertex
	for id, v := range g.nodes {
		indegree[id] = len(v.deps)
		if len(v.deps) == 0 {
			current = append(current, v)
		}
	}

	var levels [][]string
	visited := 0
	for len(current) > 0 {
		levels = append(levels, ordered(current))
		visited += len(current)
		var next []*vertex
		for _, v := range current {
			for id, dependent := range v.dependents {
				indegree[id]--
				if indegree[id] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if visited != len(g.nodes) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("cycle detected involving nodes: %s", strings.Join(stuck, ", "))
	}
	return levels, nil
}

// DetectCycles returns a non-nil error when the graph is not acyclic.
func (g *Graph) DetectCycles() error {
	_, err := g.Levels()
	return err
}

func ordered(vs []*vertex) []string {
	sort.Slice(vs, func(i, j int) bool { return vs[i].order < vs[j].order })
	ids := make([]string, len(vs))
	for i, v := range vs {
		ids[i] = v.id
	}
	return ids
}

func orderedSet(set map[string]*vertex) []string {
	vs := make([]*vertex, 0, len(set))
	for _, v := range set {
		vs = append(vs, v)
	}
	return ordered(vs)
}
