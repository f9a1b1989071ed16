package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"loom/internal/graph"
	"loom/internal/index"
	"loom/internal/session"
	"loom/internal/similarity"
	"loom/internal/tools"
	"loom/internal/vcs"
	apperrors "loom/pkg/errors"
)

// Mock similarity oracle for testing

type fakeOracle struct {
	mu      sync.Mutex
	upserts map[string]string
	deletes []string
	fail    bool
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{upserts: map[string]string{}}
}

func (f *fakeOracle) Upsert(ctx context.Context, name, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("oracle unavailable")
	}
	f.upserts[name] = content
	return nil
}

func (f *fakeOracle) Query(ctx context.Context, query string, topK int) ([]similarity.Match, error) {
	return []similarity.Match{}, nil
}

func (f *fakeOracle) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, name)
	return nil
}

func (f *fakeOracle) upserted(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.upserts[name]
	return content, ok
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func newTestEngine(t *testing.T, oracle similarity.Index) (*Engine, *graph.Store, *index.Index) {
	t.Helper()
	requireGit(t)

	root := t.TempDir()
	backend := vcs.NewGit(zap.NewNop())
	if err := backend.InitIfAbsent(context.Background(), root); err != nil {
		t.Fatalf("InitIfAbsent failed: %v", err)
	}

	trunk := graph.NewStore(filepath.Join(root, graph.NodesDir))
	sessions := session.NewManager(root, backend, zap.NewNop())
	idx := index.New(trunk, zap.NewNop())
	if err := idx.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var syncer *similarity.Syncer
	if oracle != nil {
		syncer = similarity.NewSyncer(trunk, oracle, 2)
	}
	return New(trunk, sessions, idx, backend, oracle, syncer, zap.NewNop()), trunk, idx
}

func TestEngine_Write(t *testing.T) {
	oracle := newFakeOracle()
	eng, trunk, idx := newTestEngine(t, oracle)
	ctx := context.Background()

	res, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
		if err := w.CreateNode("alice", "Knows [[bob]]."); err != nil {
			return "", err
		}
		return "add alice", nil
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !res.Success || res.Revision == "" {
		t.Fatalf("Unexpected merge result: %+v", res)
	}

	// Trunk, graph index and similarity index all reflect the merge
	content, err := trunk.Read("alice")
	if err != nil {
		t.Fatalf("Trunk read failed: %v", err)
	}
	if content != "Knows [[bob]]." {
		t.Errorf("Unexpected trunk content: %q", content)
	}
	if !idx.Has("alice") {
		t.Error("Expected graph index updated")
	}
	if !reflect.DeepEqual(idx.Backlinks("bob"), []string{"alice"}) {
		t.Errorf("Expected backlink via the new node, got %v", idx.Backlinks("bob"))
	}
	if got, ok := oracle.upserted("alice"); !ok || got != content {
		t.Errorf("Expected similarity upsert of trunk content, got %q (%v)", got, ok)
	}
}

func TestEngine_Node(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
		if err := w.CreateNode("alice", "---\ntype: person\n---\n\nKnows [[bob]]."); err != nil {
			return "", err
		}
		return "add alice", w.CreateNode("bob", "Works with alice.")
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	view, err := eng.Node("alice")
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	if view.Name != "alice" || !strings.Contains(view.Content, "Knows [[bob]].") {
		t.Errorf("Unexpected view: %+v", view)
	}
	if !reflect.DeepEqual(view.Outlinks, []string{"bob"}) {
		t.Errorf("Expected outlinks [bob], got %v", view.Outlinks)
	}
	if view.Metadata["type"] != "person" {
		t.Errorf("Expected frontmatter metadata, got %v", view.Metadata)
	}

	// The reverse direction comes from the index's adjacency
	view, err = eng.Node("bob")
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	if !reflect.DeepEqual(view.Backlinks, []string{"alice"}) {
		t.Errorf("Expected backlinks [alice], got %v", view.Backlinks)
	}
	if len(view.Outlinks) != 0 {
		t.Errorf("Expected no outlinks, got %v", view.Outlinks)
	}

	if _, err := eng.Node("ghost"); !apperrors.IsNotFound(err) {
		t.Errorf("Expected ErrNodeNotFound, got %v", err)
	}
}

func TestEngine_Write_FnFailure(t *testing.T) {
	oracle := newFakeOracle()
	eng, trunk, idx := newTestEngine(t, oracle)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
		if err := w.CreateNode("alice", "half-done work"); err != nil {
			return "", err
		}
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the work function's error, got %v", err)
	}

	// Nothing may have reached trunk or the indexes
	if _, err := trunk.Read("alice"); !apperrors.IsNotFound(err) {
		t.Errorf("Expected no trunk node, got %v", err)
	}
	if idx.Has("alice") {
		t.Error("Expected graph index untouched")
	}
	if _, ok := oracle.upserted("alice"); ok {
		t.Error("Expected similarity index untouched")
	}

	// The engine must be fully usable afterwards
	if _, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
		return "ok", w.CreateNode("bob", "fine")
	}); err != nil {
		t.Fatalf("Follow-up write failed: %v", err)
	}
}

func TestEngine_Write_Conflict(t *testing.T) {
	oracle := newFakeOracle()
	eng, trunk, idx := newTestEngine(t, oracle)
	ctx := context.Background()

	if _, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
		return "seed shared-doc", w.CreateNode("shared-doc", "base")
	}); err != nil {
		t.Fatalf("Seed write failed: %v", err)
	}

	// Two sessions update the same node from the same trunk snapshot. The
	// sandboxes are staggered into existence, then both merge.
	release := make(chan struct{})
	wrote := make(chan struct{}, 2)
	results := make(chan error, 2)

	update := func(content string) {
		_, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
			if err := w.UpdateNode("shared-doc", content); err != nil {
				return "", err
			}
			wrote <- struct{}{}
			<-release
			return "update shared-doc", nil
		})
		results <- err
	}

	go update("from-a")
	<-wrote
	go update("from-b")
	<-wrote
	close(release)

	errs := []error{<-results, <-results}
	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) != 1 {
		t.Fatalf("Expected exactly one loser, got errors: %v", errs)
	}
	if !apperrors.IsMergeConflict(failures[0]) {
		t.Fatalf("Expected ErrMergeConflict, got %v", failures[0])
	}
	var conflict *apperrors.ErrMergeConflict
	errors.As(failures[0], &conflict)
	if len(conflict.Nodes) != 1 || conflict.Nodes[0] != "shared-doc" {
		t.Errorf("Expected the conflict to name shared-doc, got %v", conflict.Nodes)
	}

	// Trunk holds exactly the winner's content and the indexes agree
	content, err := trunk.Read("shared-doc")
	if err != nil {
		t.Fatalf("Trunk read failed: %v", err)
	}
	if content != "from-a" && content != "from-b" {
		t.Errorf("Expected the winner's content on trunk, got %q", content)
	}
	if !idx.Has("shared-doc") {
		t.Error("Expected shared-doc in the graph index")
	}
	if got, _ := oracle.upserted("shared-doc"); got != content {
		t.Errorf("Expected similarity index to match trunk, got %q vs %q", got, content)
	}
}

func TestEngine_ConcurrentDisjointWrites(t *testing.T) {
	oracle := newFakeOracle()
	eng, trunk, idx := newTestEngine(t, oracle)
	ctx := context.Background()

	const writers = 4
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("worker-%d", i)
			_, errs[i] = eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
				return "add " + name, w.CreateNode(name, "content of "+name)
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Writer %d failed: %v", i, err)
		}
	}
	names, err := trunk.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != writers {
		t.Errorf("Expected %d nodes on trunk, got %v", writers, names)
	}
	for i := 0; i < writers; i++ {
		if !idx.Has(fmt.Sprintf("worker-%d", i)) {
			t.Errorf("Expected worker-%d in the graph index", i)
		}
	}
}

func TestEngine_Ingest(t *testing.T) {
	oracle := newFakeOracle()
	eng, trunk, idx := newTestEngine(t, oracle)
	ctx := context.Background()

	ts := time.Date(2026, 8, 22, 10, 30, 0, 0, time.UTC)
	name, res, err := eng.Ingest(ctx, Event{
		Content:   "sensor reading 42",
		Timestamp: ts,
		Metadata:  map[string]string{"source": "webhook"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if matched, _ := regexp.MatchString(`^event-2026-08-22-[0-9a-f]{6}$`, name); !matched {
		t.Errorf("Unexpected event node name: %q", name)
	}
	found := false
	for _, path := range res.Changed {
		if path == "nodes/"+name+".md" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected the event node among changed files, got %v", res.Changed)
	}

	content, err := trunk.Read(name)
	if err != nil {
		t.Fatalf("Trunk read failed: %v", err)
	}
	meta, body := graph.SplitFrontmatter(content)
	if meta["type"] != "event" {
		t.Errorf("Expected type event, got %v", meta)
	}
	if meta["timestamp"] != "2026-08-22T10:30:00Z" {
		t.Errorf("Unexpected timestamp: %q", meta["timestamp"])
	}
	if meta["source"] != "webhook" {
		t.Errorf("Expected metadata pair, got %v", meta)
	}
	if !strings.HasPrefix(body, "# Event: "+name) {
		t.Errorf("Unexpected body heading: %q", body)
	}
	if !strings.Contains(body, "```\nsensor reading 42\n```") {
		t.Errorf("Expected fenced raw content, got %q", body)
	}

	if !idx.Has(name) {
		t.Error("Expected event node in the graph index")
	}
	if _, ok := oracle.upserted(name); !ok {
		t.Error("Expected event node in the similarity index")
	}
}

func TestEngine_Write_SimilarityFailureKeepsMerge(t *testing.T) {
	oracle := newFakeOracle()
	oracle.fail = true
	eng, trunk, idx := newTestEngine(t, oracle)
	ctx := context.Background()

	res, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
		return "add alice", w.CreateNode("alice", "content")
	})
	if err != nil {
		t.Fatalf("Write must survive a similarity failure after merge: %v", err)
	}
	if !res.Success {
		t.Fatalf("Expected successful merge, got %+v", res)
	}
	if _, err := trunk.Read("alice"); err != nil {
		t.Errorf("Expected trunk node despite similarity failure: %v", err)
	}
	if !idx.Has("alice") {
		t.Error("Expected graph index updated despite similarity failure")
	}
}

func TestEngine_SimilarityDisabled(t *testing.T) {
	eng, trunk, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
		return "add alice", w.CreateNode("alice", "content")
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := trunk.Read("alice"); err != nil {
		t.Errorf("Expected trunk node: %v", err)
	}

	if eng.SimilarityEnabled() {
		t.Error("Expected similarity to be disabled")
	}
	if _, err := eng.Reindex(ctx); err == nil {
		t.Error("Expected reindex to fail with similarity disabled")
	}
}
