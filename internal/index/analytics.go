package index

import (
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

const (
	pageRankDamping   = 0.85
	pageRankTolerance = 1e-6
)

// Analytics holds the derived per-vertex metrics, a pure function of the
// current edge set. Gen identifies the graph generation the values were
// computed from; a fresh Gen proves a recompute happened.
type Analytics struct {
	Ranking    map[string]float64
	Community  map[string]int
	Centrality map[string]float64
	Gen        uint64
}

// Analytics returns the cached metrics, recomputing them first if any
// mutation happened since the last call. The whole computation runs under
// the index lock against a single consistent snapshot.
func (i *Index) Analytics() *Analytics {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.analyticsLocked()
}

func (i *Index) analyticsLocked() *Analytics {
	if !i.built {
		panic("graph index: analytics requested before a successful build")
	}
	if i.cache == nil {
		i.cache = i.computeLocked()
	}
	return i.cache
}

// computeLocked derives ranking (PageRank over the directed graph),
// community ids (Louvain modularity over the undirected projection) and
// centrality (shortest-path betweenness over the directed graph) for the
// existing vertices. Dangling targets and self-references stay in the
// adjacency but are not part of the analytics graph.
func (i *Index) computeLocked() *Analytics {
	a := &Analytics{
		Ranking:    map[string]float64{},
		Community:  map[string]int{},
		Centrality: map[string]float64{},
		Gen:        i.gen,
	}
	names := i.sortedPresentLocked()
	n := len(names)
	if n == 0 {
		return a
	}

	ids := make(map[string]int64, n)
	directed := simple.NewDirectedGraph()
	undirected := simple.NewUndirectedGraph()
	for k, name := range names {
		ids[name] = int64(k)
		directed.AddNode(simple.Node(int64(k)))
		undirected.AddNode(simple.Node(int64(k)))
	}
	hasEdges := false
	for _, src := range names {
		from := simple.Node(ids[src])
		for _, target := range i.out[src] {
			to, ok := ids[target]
			if !ok || target == src {
				continue
			}
			directed.SetEdge(simple.Edge{F: from, T: simple.Node(to)})
			undirected.SetEdge(simple.Edge{F: from, T: simple.Node(to)})
			hasEdges = true
		}
	}

	for id, rank := range network.PageRank(directed, pageRankDamping, pageRankTolerance) {
		a.Ranking[names[id]] = rank
	}

	if hasEdges {
		reduced := community.Modularize(undirected, 1, nil)
		for id, members := range reduced.Communities() {
			for _, node := range members {
				a.Community[names[node.ID()]] = id
			}
		}
	} else {
		// Zero edges: every vertex is its own singleton community,
		// numbered by iteration order.
		for k, name := range names {
			a.Community[name] = k
		}
	}

	betweenness := network.Betweenness(directed)
	norm := 1.0
	if n > 2 {
		norm = 1.0 / float64((n-1)*(n-2))
	}
	for _, name := range names {
		a.Centrality[name] = betweenness[ids[name]] * norm
	}

	return a
}
