package index

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"loom/internal/graph"
	apperrors "loom/pkg/errors"
)

// Index is an in-memory directed graph over the trunk's node names.
// Vertices are the nodes that currently exist; the adjacency additionally
// keeps edges whose target has no body yet (dangling links), so backlink
// lookups agree with a full body scan, but dangling names are never
// materialized as vertices and analytics only iterate existing ones.
//
// The zero value is not usable; construct with New and call Build before
// requesting analytics. All mutation and analytics recomputation happens
// under the index's own lock: readers never observe a graph mid-update.
type Index struct {
	store  *graph.Store
	logger *zap.Logger

	mu      sync.RWMutex
	present map[string]struct{}
	out     map[string][]string
	in      map[string]map[string]struct{}
	built   bool
	gen     uint64
	cache   *Analytics
}

// New returns an index over the given trunk store.
func New(store *graph.Store, logger *zap.Logger) *Index {
	return &Index{
		store:   store,
		logger:  logger,
		present: map[string]struct{}{},
		out:     map[string][]string{},
		in:      map[string]map[string]struct{}{},
	}
}

// Build fully rebuilds the graph from the store. Idempotent; callable any
// number of times. Invalidates the analytics cache.
func (i *Index) Build() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.built = false
	i.gen++
	i.cache = nil
	i.present = map[string]struct{}{}
	i.out = map[string][]string{}
	i.in = map[string]map[string]struct{}{}

	names, err := i.store.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		content, err := i.store.Read(name)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return err
		}
		i.setLocked(name, graph.ExtractLinks(content))
	}
	i.built = true
	i.logger.Debug("index built", zap.Int("nodes", len(i.present)))
	return nil
}

// ApplyChangedFiles patches the graph from the node files touched by the
// most recent successful merge: each one's out-edges are re-derived from
// its current body, and vertices whose file is gone are removed. The
// analytics cache is invalidated unconditionally, even for a no-op diff.
func (i *Index) ApplyChangedFiles(paths []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.gen++
	i.cache = nil
	for _, path := range paths {
		name, ok := graph.NodeNameFromPath(path)
		if !ok {
			continue
		}
		content, err := i.store.Read(name)
		if err != nil {
			if apperrors.IsNotFound(err) {
				i.removeLocked(name)
				continue
			}
			return err
		}
		i.setLocked(name, graph.ExtractLinks(content))
	}
	return nil
}

// setLocked replaces name's outgoing edges with targets and marks it
// present. Incoming edges are untouched: they belong to their sources.
func (i *Index) setLocked(name string, targets []string) {
	for _, t := range i.out[name] {
		delete(i.in[t], name)
		if len(i.in[t]) == 0 {
			delete(i.in, t)
		}
	}
	i.present[name] = struct{}{}
	i.out[name] = targets
	for _, t := range targets {
		// A self-reference stays an outlink but never a backlink, the
		// same way a body scan skips the node's own file.
		if t == name {
			continue
		}
		if i.in[t] == nil {
			i.in[t] = map[string]struct{}{}
		}
		i.in[t][name] = struct{}{}
	}
}

// removeLocked drops a vertex and its outgoing edges. Edges pointing at
// the removed name stay in the adjacency: their sources' bodies still
// reference it, so its backlinks keep resolving like a full scan would.
func (i *Index) removeLocked(name string) {
	for _, t := range i.out[name] {
		delete(i.in[t], name)
		if len(i.in[t]) == 0 {
			delete(i.in, t)
		}
	}
	delete(i.out, name)
	delete(i.present, name)
}

// Outlinks returns name's outgoing link targets in first-occurrence
// order. Unknown names yield an empty result, never an error.
func (i *Index) Outlinks(name string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	links := make([]string, len(i.out[name]))
	copy(links, i.out[name])
	return links
}

// Backlinks returns the names whose bodies link to name, sorted. Unknown
// and dangling names both resolve; the result is empty, never an error,
// when nothing links here.
func (i *Index) Backlinks(name string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	sources := make([]string, 0, len(i.in[name]))
	for src := range i.in[name] {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// Has reports whether name currently exists as a vertex.
func (i *Index) Has(name string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.present[name]
	return ok
}

// sortedPresentLocked returns the existing vertex names in lexicographic
// order; this is the iteration order analytics and export use.
func (i *Index) sortedPresentLocked() []string {
	names := make([]string, 0, len(i.present))
	for name := range i.present {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
