package graph

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	apperrors "loom/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), NodesDir))
}

func TestStore_CreateAndRead(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create("alice", "Alice's node"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	content, err := s.Read("alice")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if content != "Alice's node" {
		t.Errorf("Expected content 'Alice's node', got %q", content)
	}
}

func TestStore_Create_AlreadyExists(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create("alice", "first"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := s.Create("alice", "second")
	if err == nil {
		t.Fatal("Expected error for duplicate create")
	}
	if !apperrors.IsAlreadyExists(err) {
		t.Errorf("Expected ErrNodeExists, got %T", err)
	}

	// The original content must be untouched
	content, err := s.Read("alice")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if content != "first" {
		t.Errorf("Expected content 'first', got %q", content)
	}
}

func TestStore_Read_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read("ghost")
	if err == nil {
		t.Fatal("Expected error for missing node")
	}
	if !apperrors.IsNotFound(err) {
		t.Errorf("Expected ErrNodeNotFound, got %T", err)
	}
}

func TestStore_Update(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create("alice", "v1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Update("alice", "v2"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	content, _ := s.Read("alice")
	if content != "v2" {
		t.Errorf("Expected content 'v2', got %q", content)
	}
}

func TestStore_Update_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.Update("ghost", "content")
	if err == nil {
		t.Fatal("Expected error for updating missing node")
	}
	if !apperrors.IsNotFound(err) {
		t.Errorf("Expected ErrNodeNotFound, got %T", err)
	}
	if _, readErr := s.Read("ghost"); readErr == nil {
		t.Error("Update of a missing node must not create it")
	}
}

func TestStore_Write_Upserts(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write("alice", "v1"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write("alice", "v2"); err != nil {
		t.Fatalf("Write over existing node failed: %v", err)
	}

	content, _ := s.Read("alice")
	if content != "v2" {
		t.Errorf("Expected content 'v2', got %q", content)
	}
}

func TestStore_InvalidNames(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", "a/b", `a\b`, "../escape", "a..b"} {
		if err := s.Write(name, "content"); err == nil {
			t.Errorf("Expected invalid name error for %q", name)
		}
	}
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"carol", "alice", "bob"} {
		if err := s.Write(name, "content"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	// Non-node files and directories are ignored
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Mkdir(filepath.Join(s.Dir(), "sub.md"), 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Expected %v, got %v", want, names)
	}
}

func TestStore_List_MissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))

	names, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("Expected empty list, got %v", names)
	}
}

func TestStore_Search_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)

	s.Write("alice", "Works on Distributed Systems")
	s.Write("bob", "likes databases")
	s.Write("carol", "SYSTEMS programming")

	results, err := s.Search("systems")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	want := []string{"alice", "carol"}
	if !reflect.DeepEqual(results, want) {
		t.Errorf("Expected %v, got %v", want, results)
	}

	none, err := s.Search("quantum")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no results, got %v", none)
	}
}

func TestNodeNameFromPath(t *testing.T) {
	cases := []struct {
		path string
		name string
		ok   bool
	}{
		{"nodes/alice.md", "alice", true},
		{"nodes/event-2026-08-22-ab12cd.md", "event-2026-08-22-ab12cd", true},
		{"nodes/.md", "", false},
		{"nodes/sub/alice.md", "", false},
		{"alice.md", "", false},
		{"nodes/alice.txt", "", false},
		{"README.md", "", false},
	}
	for _, c := range cases {
		name, ok := NodeNameFromPath(c.path)
		if ok != c.ok || name != c.name {
			t.Errorf("NodeNameFromPath(%q) = (%q, %v), want (%q, %v)", c.path, name, ok, c.name, c.ok)
		}
	}
}
