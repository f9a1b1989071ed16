package tools

import (
	"loom/internal/graph"
	"loom/internal/similarity"
	"loom/internal/vcs"
)

// Writer is the full toolset over a writer sandbox: everything a Reader
// offers plus mutations. Mutations touch only the sandbox; they reach trunk
// and the similarity index when the session merges.
type Writer struct {
	*Reader
}

// NewWriter builds a writer over a sandbox store rooted at sandboxDir.
func NewWriter(store *graph.Store, sim similarity.Index, backend vcs.Backend, sandboxDir string) *Writer {
	return &Writer{Reader: NewReader(store, sim, backend, sandboxDir)}
}

// CreateNode adds a new node. It fails if the node already exists.
func (w *Writer) CreateNode(name, content string) error {
	return w.store.Create(name, content)
}

// UpdateNode replaces an existing node's content. It fails if the node does
// not exist.
func (w *Writer) UpdateNode(name, content string) error {
	return w.store.Update(name, content)
}

// WriteNode sets a node's content whether or not it exists.
func (w *Writer) WriteNode(name, content string) error {
	return w.store.Write(name, content)
}
