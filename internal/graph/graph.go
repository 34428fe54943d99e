// Package graph builds capped directed endpoint graphs and enumerates
// bounded simple paths through them.
package graph

import (
	"github.com/PentesterFlow/PathScout/internal/scope"
)

// Limits bounds graph construction and path search.
type Limits struct {
	MaxNodes int `json:"max_nodes" yaml:"max_nodes"`
	MaxEdges int `json:"max_edges" yaml:"max_edges"`
	MaxDepth int `json:"max_depth" yaml:"max_depth"` // nodes per path
	MaxPaths int `json:"max_paths" yaml:"max_paths"`
}

// DefaultLimits returns the standard caps.
func DefaultLimits() Limits {
	return Limits{
		MaxNodes: 1000,
		MaxEdges: 5000,
		MaxDepth: 25,
		MaxPaths: 200,
	}
}

// Edge is a directed (source, destination) pair.
type Edge [2]string

// Graph is a directed graph without parallel edges. Nodes and each node's
// successors keep insertion order. A Graph is built and read by a single
// invocation and is not safe for concurrent mutation.
type Graph struct {
	nodes   []string
	index   map[string]int
	out     [][]int
	inDeg   []int
	edges   []Edge
	edgeSet map[[2]int]struct{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index:   make(map[string]int),
		edgeSet: make(map[[2]int]struct{}),
	}
}

// AddNode adds n and reports whether it was new.
func (g *Graph) AddNode(n string) bool {
	if _, ok := g.index[n]; ok {
		return false
	}
	g.index[n] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.out = append(g.out, nil)
	g.inDeg = append(g.inDeg, 0)
	return true
}

// AddEdge adds src->dst when both are nodes and the edge is new.
func (g *Graph) AddEdge(src, dst string) bool {
	s, ok := g.index[src]
	if !ok {
		return false
	}
	d, ok := g.index[dst]
	if !ok {
		return false
	}
	key := [2]int{s, d}
	if _, exists := g.edgeSet[key]; exists {
		return false
	}
	g.edgeSet[key] = struct{}{}
	g.out[s] = append(g.out[s], d)
	g.inDeg[d]++
	g.edges = append(g.edges, Edge{src, dst})
	return true
}

// Has reports whether n is a node.
func (g *Graph) Has(n string) bool {
	_, ok := g.index[n]
	return ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// OutDegree returns the number of edges leaving n.
func (g *Graph) OutDegree(n string) int {
	if i, ok := g.index[n]; ok {
		return len(g.out[i])
	}
	return 0
}

// InDegree returns the number of edges entering n.
func (g *Graph) InDegree(n string) int {
	if i, ok := g.index[n]; ok {
		return g.inDeg[i]
	}
	return 0
}

// Successors returns the destinations of edges leaving n in insertion order.
func (g *Graph) Successors(n string) []string {
	i, ok := g.index[n]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.out[i]))
	for _, j := range g.out[i] {
		out = append(out, g.nodes[j])
	}
	return out
}

// View is the serializable form of a graph.
type View struct {
	Nodes []string `json:"nodes" yaml:"nodes"`
	Edges []Edge   `json:"edges" yaml:"edges"`
}

// View returns the serializable form of g.
func (g *Graph) View() View {
	return View{Nodes: g.Nodes(), Edges: g.Edges()}
}

// BuildStats counts inputs that did not make it into the graph.
type BuildStats struct {
	EmptyEndpoints int `json:"empty_endpoints"`
	DroppedNodes   int `json:"dropped_nodes"`
	MalformedPairs int `json:"malformed_pairs"`
	UnknownEdges   int `json:"unknown_edges"`
	DroppedEdges   int `json:"dropped_edges"`
}

// Builder constructs graphs under node and edge caps.
type Builder struct {
	limits Limits
}

// NewBuilder creates a builder. Non-positive caps take the defaults.
func NewBuilder(limits Limits) *Builder {
	defaults := DefaultLimits()
	if limits.MaxNodes <= 0 {
		limits.MaxNodes = defaults.MaxNodes
	}
	if limits.MaxEdges <= 0 {
		limits.MaxEdges = defaults.MaxEdges
	}
	return &Builder{limits: limits}
}

// Build normalizes endpoints into nodes and adds the well-formed pairs
// whose ends are both nodes. The first MaxNodes unique endpoints and the
// first MaxEdges accepted edges survive; everything after is dropped.
func (b *Builder) Build(endpoints []string, pairs [][]string) (*Graph, BuildStats) {
	g := New()
	var stats BuildStats

	for i, raw := range endpoints {
		if g.NodeCount() >= b.limits.MaxNodes {
			stats.DroppedNodes += len(endpoints) - i
			break
		}
		n := scope.Normalize(raw)
		if n == "" {
			stats.EmptyEndpoints++
			continue
		}
		g.AddNode(n)
	}

	for i, pair := range pairs {
		if g.EdgeCount() >= b.limits.MaxEdges {
			stats.DroppedEdges += len(pairs) - i
			break
		}
		if len(pair) != 2 {
			stats.MalformedPairs++
			continue
		}
		src, dst := scope.Normalize(pair[0]), scope.Normalize(pair[1])
		if !g.Has(src) || !g.Has(dst) {
			stats.UnknownEdges++
			continue
		}
		g.AddEdge(src, dst)
	}

	return g, stats
}

// Sequential returns the chain endpoints[0]->endpoints[1]->...
func Sequential(endpoints []string) [][]string {
	if len(endpoints) < 2 {
		return [][]string{}
	}
	pairs := make([][]string, 0, len(endpoints)-1)
	for i := 0; i+1 < len(endpoints); i++ {
		pairs = append(pairs, []string{endpoints[i], endpoints[i+1]})
	}
	return pairs
}
