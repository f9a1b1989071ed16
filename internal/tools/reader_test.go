package tools

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"loom/internal/graph"
	"loom/internal/similarity"
	"loom/internal/vcs"
	apperrors "loom/pkg/errors"
)

// Mock collaborators for testing

type fakeSim struct {
	matches   []similarity.Match
	lastQuery string
	lastTopK  int
}

func (f *fakeSim) Upsert(ctx context.Context, name, content string) error { return nil }

func (f *fakeSim) Query(ctx context.Context, query string, topK int) ([]similarity.Match, error) {
	f.lastQuery = query
	f.lastTopK = topK
	return f.matches, nil
}

func (f *fakeSim) Delete(ctx context.Context, name string) error { return nil }

type fakeHistory struct {
	commits   []vcs.Commit
	lastDir   string
	lastSince string
	lastLimit int
}

func (f *fakeHistory) InitIfAbsent(ctx context.Context, root string) error { return nil }

func (f *fakeHistory) Branch(ctx context.Context, root, name string) (string, error) {
	return "", nil
}

func (f *fakeHistory) Commit(ctx context.Context, path, message string) (string, error) {
	return "", nil
}

func (f *fakeHistory) MergeBranch(ctx context.Context, root, name string) (*vcs.MergeResult, error) {
	return nil, nil
}

func (f *fakeHistory) Log(ctx context.Context, dir, since string, limit int) ([]vcs.Commit, error) {
	f.lastDir = dir
	f.lastSince = since
	f.lastLimit = limit
	return f.commits, nil
}

func (f *fakeHistory) RemoveBranch(ctx context.Context, root, path, name string) {}

func newTestReader(t *testing.T) (*graph.Store, *fakeHistory, *Reader) {
	t.Helper()
	store := graph.NewStore(filepath.Join(t.TempDir(), graph.NodesDir))
	backend := &fakeHistory{}
	return store, backend, NewReader(store, nil, backend, "trunk")
}

func TestReader_Node(t *testing.T) {
	store, _, r := newTestReader(t)
	store.Write("alice", "---\ntype: person\n---\n\nKnows [[bob]].")
	store.Write("bob", "Works with [[alice]].")

	view, err := r.Node("alice")
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	if view.Name != "alice" {
		t.Errorf("Expected name alice, got %q", view.Name)
	}
	if want := []string{"bob"}; !reflect.DeepEqual(view.Outlinks, want) {
		t.Errorf("Expected outlinks %v, got %v", want, view.Outlinks)
	}
	if want := []string{"bob"}; !reflect.DeepEqual(view.Backlinks, want) {
		t.Errorf("Expected backlinks %v, got %v", want, view.Backlinks)
	}
	if view.Metadata["type"] != "person" {
		t.Errorf("Expected frontmatter metadata, got %v", view.Metadata)
	}
}

func TestReader_Node_NotFound(t *testing.T) {
	_, _, r := newTestReader(t)

	_, err := r.Node("ghost")
	if !apperrors.IsNotFound(err) {
		t.Errorf("Expected ErrNodeNotFound, got %v", err)
	}
}

func TestReader_SearchByKeyword(t *testing.T) {
	store, _, r := newTestReader(t)
	store.Write("alice", "works on compilers")
	store.Write("bob", "works on networks")

	results, err := r.SearchByKeyword("Compilers")
	if err != nil {
		t.Fatalf("SearchByKeyword failed: %v", err)
	}
	if want := []string{"alice"}; !reflect.DeepEqual(results, want) {
		t.Errorf("Expected %v, got %v", want, results)
	}
}

func TestReader_SearchBySimilarity_Disabled(t *testing.T) {
	_, _, r := newTestReader(t)

	matches, err := r.SearchBySimilarity(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("SearchBySimilarity failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no matches with similarity disabled, got %v", matches)
	}
}

func TestReader_SearchBySimilarity(t *testing.T) {
	store := graph.NewStore(filepath.Join(t.TempDir(), graph.NodesDir))
	sim := &fakeSim{matches: []similarity.Match{{Name: "alice", Score: 0.9, Snippet: "snippet"}}}
	r := NewReader(store, sim, &fakeHistory{}, "trunk")

	matches, err := r.SearchBySimilarity(context.Background(), "who knows compilers", 3)
	if err != nil {
		t.Fatalf("SearchBySimilarity failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "alice" {
		t.Errorf("Expected the index's matches, got %v", matches)
	}
	if sim.lastQuery != "who knows compilers" || sim.lastTopK != 3 {
		t.Errorf("Expected query passthrough, got %q k=%d", sim.lastQuery, sim.lastTopK)
	}
}

func TestReader_RecentChanges(t *testing.T) {
	_, backend, r := newTestReader(t)
	backend.commits = []vcs.Commit{
		{Revision: "abc", Message: "ingest event-1", Timestamp: time.Now(), Changed: []string{"nodes/a.md"}},
	}

	commits, err := r.RecentChanges(context.Background(), "2026-08-01", 7)
	if err != nil {
		t.Fatalf("RecentChanges failed: %v", err)
	}
	if len(commits) != 1 || commits[0].Revision != "abc" {
		t.Errorf("Expected backend history, got %v", commits)
	}
	if backend.lastDir != "trunk" || backend.lastLimit != 7 {
		t.Errorf("Expected history of trunk with limit 7, got %q %d", backend.lastDir, backend.lastLimit)
	}
	if backend.lastSince != "2026-08-01" {
		t.Errorf("Expected the since bound passed through, got %q", backend.lastSince)
	}

	// A non-positive limit falls back to the default; no since means no bound
	r.RecentChanges(context.Background(), "", 0)
	if backend.lastLimit != defaultHistoryLimit {
		t.Errorf("Expected default limit %d, got %d", defaultHistoryLimit, backend.lastLimit)
	}
	if backend.lastSince != "" {
		t.Errorf("Expected an unbounded query, got since %q", backend.lastSince)
	}
}

func TestWriter_Mutations(t *testing.T) {
	store := graph.NewStore(filepath.Join(t.TempDir(), graph.NodesDir))
	w := NewWriter(store, nil, &fakeHistory{}, "sandbox")

	if err := w.CreateNode("alice", "v1"); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if err := w.CreateNode("alice", "again"); !apperrors.IsAlreadyExists(err) {
		t.Errorf("Expected ErrNodeExists, got %v", err)
	}
	if err := w.UpdateNode("alice", "v2"); err != nil {
		t.Fatalf("UpdateNode failed: %v", err)
	}
	if err := w.UpdateNode("ghost", "content"); !apperrors.IsNotFound(err) {
		t.Errorf("Expected ErrNodeNotFound, got %v", err)
	}
	if err := w.WriteNode("ghost", "now exists"); err != nil {
		t.Fatalf("WriteNode failed: %v", err)
	}

	view, err := w.Node("alice")
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	if view.Content != "v2" {
		t.Errorf("Expected content v2, got %q", view.Content)
	}
}
