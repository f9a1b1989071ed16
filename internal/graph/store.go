package graph

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "loom/pkg/errors"
)

// NodesDir is the subtree of a repository root that holds node files.
// Only this subtree is ever committed; index and cache files live outside
// it.
const NodesDir = "nodes"

// NodeNameFromPath maps a repository-relative node file path back to its
// node name. Reports false for paths outside the node subtree.
func NodeNameFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, NodesDir+"/")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, ".md")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Store reads and writes markdown node files under a single directory.
// It has no concurrency awareness of its own: isolation is provided by
// never handing two write sessions the same root.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily
// on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", apperrors.NewInvalidName(name)
	}
	return filepath.Join(s.dir, name+".md"), nil
}

// Read returns a node's full content. Missing nodes are a normal negative
// result reported as ErrNodeNotFound.
func (s *Store) Read(name string) (string, error) {
	path, err := s.path(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NewNodeNotFound(name)
		}
		return "", err
	}
	return string(data), nil
}

// Write creates or overwrites a node file with the given content.
func (s *Store) Write(name, content string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// Create writes a new node and fails with ErrNodeExists if the name is
// already taken. Creation is exclusive at the filesystem level.
func (s *Store) Create(name, content string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return apperrors.NewNodeExists(name)
		}
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	return f.Close()
}

// Update replaces an existing node's content in full. It never creates:
// a missing node is reported as ErrNodeNotFound.
func (s *Store) Update(name, content string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewNodeNotFound(name)
		}
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// List returns all node names, sorted. A missing root directory is an
// empty store, not an error.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(names)
	return names, nil
}

// Search returns the names of nodes whose content contains keyword,
// case-insensitive.
func (s *Store) Search(keyword string) ([]string, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(keyword)
	results := []string{}
	for _, name := range names {
		content, err := s.Read(name)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if strings.Contains(strings.ToLower(content), lower) {
			results = append(results, name)
		}
	}
	return results, nil
}
