package vcs

import (
	"context"
	"time"
)

// Commit is one entry of the trunk history, newest first in Log results.
type Commit struct {
	Revision  string    `json:"revision"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Changed   []string  `json:"changed_files"`
}

// MergeResult is the outcome of folding one branch into trunk. A merge is
// atomic: trunk is either unchanged (conflict) or advanced exactly one
// revision (success).
type MergeResult struct {
	Success   bool
	Revision  string   // new trunk revision, on success
	Changed   []string // file paths the merge changed in trunk, on success
	Conflicts []string // file paths left unmerged, on conflict
}

// Backend abstracts the snapshot/branch/merge primitive the storage engine
// delegates to. Policy layers (isolation, serialization) never assume a
// specific command shape behind this interface.
type Backend interface {
	// InitIfAbsent creates the trunk repository and node subtree if the
	// root is not one already. Idempotent.
	InitIfAbsent(ctx context.Context, root string) error

	// Branch creates an isolated working copy for the named branch,
	// snapshotted from the current trunk head, and returns its path.
	Branch(ctx context.Context, root, name string) (string, error)

	// Commit stages the node-data subtree in the given working copy and
	// records it, returning the new revision. Zero staged changes still
	// commit so a no-change session can end cleanly.
	Commit(ctx context.Context, path, message string) (string, error)

	// MergeBranch folds the named branch into trunk. On conflict it
	// reports every unmerged file and rolls trunk back to its pre-merge
	// state before returning; trunk is never left conflicted. Once
	// started, a merge runs to a definite outcome regardless of caller
	// cancellation.
	MergeBranch(ctx context.Context, root, name string) (*MergeResult, error)

	// Log lists trunk history newest first. since is optional ("" for no
	// bound) and backend-interpreted.
	Log(ctx context.Context, dir, since string, limit int) ([]Commit, error)

	// RemoveBranch tears down a branch and its working copy. Best-effort
	// and idempotent: absence of either is not an error, and failures are
	// logged, never raised.
	RemoveBranch(ctx context.Context, root, path, name string)
}
