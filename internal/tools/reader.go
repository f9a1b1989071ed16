// Package tools exposes the typed operations agents and handlers use to
// inspect and modify the knowledge graph. Readers work against any node
// store (trunk or a writer sandbox); Writers target a sandbox only.
package tools

import (
	"context"

	"loom/internal/graph"
	"loom/internal/similarity"
	"loom/internal/vcs"
)

// NodeView is a node together with its resolved link structure. Metadata
// carries the node's frontmatter pairs when it has a frontmatter block.
type NodeView struct {
	Name      string            `json:"name"`
	Content   string            `json:"content"`
	Outlinks  []string          `json:"outlinks"`
	Backlinks []string          `json:"backlinks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

const defaultHistoryLimit = 20

// Reader is the read-side toolset over one node store.
type Reader struct {
	store   *graph.Store
	sim     similarity.Index
	backend vcs.Backend
	repoDir string
}

// NewReader builds a reader over store. sim may be nil when similarity is
// disabled. repoDir is the repository the store belongs to; history queries
// run against it.
func NewReader(store *graph.Store, sim similarity.Index, backend vcs.Backend, repoDir string) *Reader {
	return &Reader{store: store, sim: sim, backend: backend, repoDir: repoDir}
}

// Node returns a node's content and links.
func (r *Reader) Node(name string) (NodeView, error) {
	content, err := r.store.Read(name)
	if err != nil {
		return NodeView{}, err
	}
	outlinks, backlinks, err := r.store.Links(name)
	if err != nil {
		return NodeView{}, err
	}
	metadata, _ := graph.SplitFrontmatter(content)
	return NodeView{
		Name:      name,
		Content:   content,
		Outlinks:  outlinks,
		Backlinks: backlinks,
		Metadata:  metadata,
	}, nil
}

// List returns all node names in sorted order.
func (r *Reader) List() ([]string, error) {
	return r.store.List()
}

// Links returns the outgoing and incoming links of a node.
func (r *Reader) Links(name string) (outlinks, backlinks []string, err error) {
	return r.store.Links(name)
}

// SearchByKeyword returns the names of nodes whose content contains the
// query, case-insensitively.
func (r *Reader) SearchByKeyword(query string) ([]string, error) {
	return r.store.Search(query)
}

// SearchBySimilarity asks the similarity index for the topK nearest nodes.
// With similarity disabled it returns no matches.
func (r *Reader) SearchBySimilarity(ctx context.Context, query string, topK int) ([]similarity.Match, error) {
	if r.sim == nil {
		return []similarity.Match{}, nil
	}
	return r.sim.Query(ctx, query, topK)
}

// RecentChanges lists the latest commits of the store's repository. since
// optionally bounds the history ("" for unbounded) and is interpreted by
// the backend.
func (r *Reader) RecentChanges(ctx context.Context, since string, limit int) ([]vcs.Commit, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return r.backend.Log(ctx, r.repoDir, since, limit)
}
