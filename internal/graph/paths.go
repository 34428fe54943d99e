package graph

import (
	"github.com/PentesterFlow/PathScout/internal/scope"
)

// Path is an ordered sequence of distinct endpoints.
type Path []string

// SearchResult holds the resolved endpoints and the paths found.
type SearchResult struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Paths     []Path `json:"paths"`
	Truncated bool   `json:"truncated"`
}

// Searcher enumerates bounded simple paths.
type Searcher struct {
	maxDepth int
	maxPaths int
}

// NewSearcher creates a searcher. Non-positive caps take the defaults.
func NewSearcher(limits Limits) *Searcher {
	defaults := DefaultLimits()
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = defaults.MaxDepth
	}
	if limits.MaxPaths <= 0 {
		limits.MaxPaths = defaults.MaxPaths
	}
	return &Searcher{maxDepth: limits.MaxDepth, maxPaths: limits.MaxPaths}
}

// FindPaths returns the simple paths from start to end, never nil.
func (s *Searcher) FindPaths(g *Graph, start, end string) []Path {
	return s.Search(g, start, end).Paths
}

// Search resolves start and end, then enumerates simple paths between them
// in depth-first discovery order. Paths hold at most MaxDepth nodes and the
// walk stops once MaxPaths paths are collected.
func (s *Searcher) Search(g *Graph, start, end string) *SearchResult {
	result := &SearchResult{Paths: []Path{}}
	if g == nil || g.NodeCount() == 0 {
		return result
	}

	from, okFrom := ResolveStart(g, start)
	to, okTo := ResolveEnd(g, end)
	if !okFrom || !okTo {
		return result
	}
	result.Start, result.End = from, to
	if from == to {
		return result
	}

	w := &walker{
		g:        g,
		end:      g.index[to],
		maxDepth: s.maxDepth,
		maxPaths: s.maxPaths,
		onPath:   make([]bool, g.NodeCount()),
		paths:    []Path{},
	}
	first := g.index[from]
	w.push(first)
	result.Truncated = !w.walk(first)
	result.Paths = w.paths

	return result
}

// ResolveStart normalizes start and falls back, when it is empty or not a
// node, to the first node with outgoing edges, then to the first node.
func ResolveStart(g *Graph, start string) (string, bool) {
	if n := scope.Normalize(start); n != "" && g.Has(n) {
		return n, true
	}
	for i, n := range g.nodes {
		if len(g.out[i]) > 0 {
			return n, true
		}
	}
	return firstNode(g)
}

// ResolveEnd normalizes end and falls back, when it is empty or not a node,
// to the last node with incoming edges, then to the first node.
func ResolveEnd(g *Graph, end string) (string, bool) {
	if n := scope.Normalize(end); n != "" && g.Has(n) {
		return n, true
	}
	for i := len(g.nodes) - 1; i >= 0; i-- {
		if g.inDeg[i] > 0 {
			return g.nodes[i], true
		}
	}
	return firstNode(g)
}

func firstNode(g *Graph) (string, bool) {
	if len(g.nodes) == 0 {
		return "", false
	}
	return g.nodes[0], true
}

// walker is the backtracking state of one search.
type walker struct {
	g        *Graph
	end      int
	maxDepth int
	maxPaths int
	path     []int
	onPath   []bool
	paths    []Path
}

func (w *walker) push(n int) {
	w.path = append(w.path, n)
	w.onPath[n] = true
}

func (w *walker) pop() {
	last := w.path[len(w.path)-1]
	w.path = w.path[:len(w.path)-1]
	w.onPath[last] = false
}

// walk extends the current path from node. It returns false once the path
// cap is reached so every frame unwinds without exploring further.
func (w *walker) walk(node int) bool {
	if len(w.path) >= w.maxDepth {
		return true
	}
	for _, next := range w.g.out[node] {
		if next == w.end {
			w.emit()
			if len(w.paths) >= w.maxPaths {
				return false
			}
			continue
		}
		if w.onPath[next] || len(w.path)+2 > w.maxDepth {
			continue
		}
		w.push(next)
		ok := w.walk(next)
		w.pop()
		if !ok {
			return false
		}
	}
	return true
}

func (w *walker) emit() {
	p := make(Path, 0, len(w.path)+1)
	for _, i := range w.path {
		p = append(p, w.g.nodes[i])
	}
	p = append(p, w.g.nodes[w.end])
	w.paths = append(w.paths, p)
}
