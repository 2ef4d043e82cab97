// Package adjacency builds the symmetric tract neighbor graph.
package adjacency

import (
	"slices"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
)

// Edge is an unordered tract pair stored once with A < B under
// geometry.CompareIDs.
type Edge struct {
	A        string
	B        string
	Distance float64
}

// Graph is an immutable, irreflexive, symmetric neighbor graph.
type Graph struct {
	tracts    []string
	edges     []Edge
	neighbors map[string][]string
	threshold float64
	policy    string
}

// NewGraph canonicalizes edges (A < B, no self loops, one entry per pair)
// and sorts them. tracts lists every tract in the universe, including those
// without neighbors.
func NewGraph(tracts []string, edges []Edge, threshold float64, policy string) *Graph {
	g := &Graph{
		tracts:    slices.Clone(tracts),
		neighbors: make(map[string][]string, len(tracts)),
		threshold: threshold,
		policy:    policy,
	}
	slices.SortFunc(g.tracts, geometry.CompareIDs)
	g.tracts = slices.Compact(g.tracts)

	canon := make([]Edge, 0, len(edges))
	for _, e := range edges {
		switch n := geometry.CompareIDs(e.A, e.B); {
		case n == 0:
			continue
		case n > 0:
			e.A, e.B = e.B, e.A
		}
		canon = append(canon, e)
	}
	slices.SortStableFunc(canon, compareEdges)
	canon = slices.CompactFunc(canon, func(x, y Edge) bool { return x.A == y.A && x.B == y.B })
	g.edges = canon

	for _, e := range g.edges {
		g.neighbors[e.A] = append(g.neighbors[e.A], e.B)
		g.neighbors[e.B] = append(g.neighbors[e.B], e.A)
	}
	for id, ns := range g.neighbors {
		slices.SortFunc(ns, geometry.CompareIDs)
		g.neighbors[id] = ns
	}
	return g
}

func compareEdges(x, y Edge) int {
	if n := geometry.CompareIDs(x.A, y.A); n != 0 {
		return n
	}
	return geometry.CompareIDs(x.B, y.B)
}

// Edges returns every edge ordered by (A, B).
func (g *Graph) Edges() []Edge { return g.edges }

// Len returns the number of stored edges.
func (g *Graph) Len() int { return len(g.edges) }

// Tracts returns the ordered tract universe.
func (g *Graph) Tracts() []string { return g.tracts }

// Threshold returns the distance threshold in meters the graph was built with.
func (g *Graph) Threshold() float64 { return g.threshold }

// Policy returns the distance policy the graph was built with.
func (g *Graph) Policy() string { return g.policy }

// Adjacent reports whether a and b are distinct neighbors.
func (g *Graph) Adjacent(a, b string) bool {
	if a == b {
		return false
	}
	_, ok := slices.BinarySearchFunc(g.neighbors[a], b, geometry.CompareIDs)
	return ok
}

// Neighbors returns the ordered neighbors of id, excluding id itself.
func (g *Graph) Neighbors(id string) []string { return g.neighbors[id] }

// Neighborhood returns the ordered neighbors of id together with id.
func (g *Graph) Neighborhood(id string) []string {
	ns := g.neighbors[id]
	out := make([]string, 0, len(ns)+1)
	out = append(out, ns...)
	i, _ := slices.BinarySearchFunc(out, id, geometry.CompareIDs)
	return slices.Insert(out, i, id)
}

// AdjacencyList returns the neighbor set of every tract in the universe.
// Tracts without neighbors map to an empty list.
func (g *Graph) AdjacencyList() map[string][]string {
	out := make(map[string][]string, len(g.tracts))
	for _, id := range g.tracts {
		ns := g.neighbors[id]
		if ns == nil {
			ns = []string{}
		}
		out[id] = ns
	}
	return out
}

// Stats describes the degree distribution of a graph.
type Stats struct {
	Tracts     int     `json:"tracts" yaml:"tracts"`
	Edges      int     `json:"edges" yaml:"edges"`
	Isolated   int     `json:"isolated" yaml:"isolated"`
	MaxDegree  int     `json:"max_degree" yaml:"max_degree"`
	MeanDegree float64 `json:"mean_degree" yaml:"mean_degree"`
}

// Stats summarizes the degree distribution.
func (g *Graph) Stats() Stats {
	s := Stats{Tracts: len(g.tracts), Edges: len(g.edges)}
	for _, id := range g.tracts {
		d := len(g.neighbors[id])
		if d == 0 {
			s.Isolated++
		}
		s.MaxDegree = max(s.MaxDegree, d)
	}
	if len(g.tracts) > 0 {
		s.MeanDegree = 2 * float64(len(g.edges)) / float64(len(g.tracts))
	}
	return s
}
