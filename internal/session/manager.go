package session

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loom/internal/graph"
	"loom/internal/vcs"
	apperrors "loom/pkg/errors"
)

// Session is one writer's private sandbox: a branch snapshotted from trunk
// plus a node store rooted in its working copy. It is owned exclusively by
// its creator until merged or discarded and is never resurrected.
type Session struct {
	branch   string
	dir      string
	store    *graph.Store
	teardown sync.Once
}

// Branch returns the session's branch name.
func (s *Session) Branch() string {
	return s.branch
}

// Dir returns the session's working copy path.
func (s *Session) Dir() string {
	return s.dir
}

// Store returns the node store rooted in the session's sandbox.
func (s *Session) Store() *graph.Store {
	return s.store
}

// Manager hands out isolated write sessions against one trunk root and
// serializes their merges. Sandboxed work runs fully in parallel; only the
// fold into trunk is a critical section.
type Manager struct {
	root    string
	backend vcs.Backend
	logger  *zap.Logger

	// mergeMu is the merge serializer: at most one MergeBranch executes
	// against the trunk root at a time. Waiters block until the gate
	// frees, then proceed against the now-updated trunk.
	mergeMu sync.Mutex
}

// NewManager returns a manager for the given trunk root.
func NewManager(root string, backend vcs.Backend, logger *zap.Logger) *Manager {
	return &Manager{root: root, backend: backend, logger: logger}
}

// Root returns the trunk root this manager guards.
func (m *Manager) Root() string {
	return m.root
}

// Begin creates a new write session: a uniquely-named branch and a private
// working copy snapshotted from the current trunk head.
func (m *Manager) Begin(ctx context.Context) (*Session, error) {
	branch := "ingest-" + uuid.NewString()[:8]
	dir, err := m.backend.Branch(ctx, m.root, branch)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("session started",
		zap.String("branch", branch),
		zap.String("dir", dir),
	)
	return &Session{
		branch: branch,
		dir:    dir,
		store:  graph.NewStore(filepath.Join(dir, graph.NodesDir)),
	}, nil
}

// End commits the session's working copy, folds its branch into trunk
// under the merge gate, and tears the sandbox down on every exit path.
// On success the MergeResult carries the new trunk revision and the files
// the merge changed. A conflict returns the result alongside an
// ErrMergeConflict naming the conflicting nodes; the branch is discarded
// either way and the caller must re-derive against fresh trunk state.
func (m *Manager) End(ctx context.Context, s *Session, message string) (*vcs.MergeResult, error) {
	defer m.release(ctx, s)

	if _, err := m.backend.Commit(ctx, s.dir, message); err != nil {
		return nil, err
	}

	m.mergeMu.Lock()
	res, err := m.backend.MergeBranch(ctx, m.root, s.branch)
	m.mergeMu.Unlock()
	if err != nil {
		return nil, err
	}

	if !res.Success {
		names := make([]string, 0, len(res.Conflicts))
		for _, path := range res.Conflicts {
			if name, ok := graph.NodeNameFromPath(path); ok {
				names = append(names, name)
			} else {
				names = append(names, path)
			}
		}
		m.logger.Info("merge conflict",
			zap.String("branch", s.branch),
			zap.Strings("nodes", names),
		)
		return res, apperrors.NewMergeConflict(names)
	}

	m.logger.Info("merged branch",
		zap.String("branch", s.branch),
		zap.String("revision", res.Revision),
		zap.Int("changed", len(res.Changed)),
	)
	return res, nil
}

// Abort discards a session without merging. Idempotent and safe after
// End; an abandoned session must still release its sandbox.
func (m *Manager) Abort(ctx context.Context, s *Session) {
	m.release(ctx, s)
}

// release tears down the branch and working copy exactly once. Teardown
// failures are logged inside the backend and swallowed: cleanup never
// masks the primary outcome.
func (m *Manager) release(ctx context.Context, s *Session) {
	s.teardown.Do(func() {
		m.backend.RemoveBranch(ctx, m.root, s.dir, s.branch)
		m.logger.Debug("session released", zap.String("branch", s.branch))
	})
}
