package index

// ExportNode is one vertex with its analytics attributes, shaped for the
// visualization frontend.
type ExportNode struct {
	Name       string  `json:"name"`
	PageRank   float64 `json:"pagerank"`
	Community  int     `json:"community"`
	Centrality float64 `json:"centrality"`
}

// ExportEdge is one directed link.
type ExportEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Export is the full serialized graph.
type Export struct {
	Nodes []ExportNode `json:"nodes"`
	Edges []ExportEdge `json:"edges"`
}

// Export serializes the existing vertices with their analytics fields and
// every edge of the adjacency, dangling targets included.
func (i *Index) Export() *Export {
	i.mu.Lock()
	defer i.mu.Unlock()

	a := i.analyticsLocked()
	names := i.sortedPresentLocked()
	out := &Export{
		Nodes: make([]ExportNode, 0, len(names)),
		Edges: []ExportEdge{},
	}
	for _, name := range names {
		out.Nodes = append(out.Nodes, ExportNode{
			Name:       name,
			PageRank:   a.Ranking[name],
			Community:  a.Community[name],
			Centrality: a.Centrality[name],
		})
		for _, target := range i.out[name] {
			out.Edges = append(out.Edges, ExportEdge{Source: name, Target: target})
		}
	}
	return out
}
