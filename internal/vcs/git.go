package vcs

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"loom/internal/graph"
	apperrors "loom/pkg/errors"
)

// Git implements Backend by shelling out to the git CLI. Trunk is the
// checked-out branch of the root repository; session branches live in
// worktrees under the system temp directory.
type Git struct {
	logger *zap.Logger
}

var _ Backend = (*Git)(nil)

// NewGit returns a git-backed versioning adapter.
func NewGit(logger *zap.Logger) *Git {
	return &Git{logger: logger}
}

// run executes one git command in dir. op names the adapter primitive for
// the typed failure, args are the git arguments.
func (g *Git) run(ctx context.Context, op, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", apperrors.NewBackendFailure(op, stderr.String(), err)
	}
	return stdout.String(), nil
}

// InitIfAbsent creates root and root/nodes, initializes a repository with
// a local committer identity, and records an initial commit holding the
// node subtree. A root that is already a repository is left untouched.
func (g *Git) InitIfAbsent(ctx context.Context, root string) error {
	if err := os.MkdirAll(filepath.Join(root, graph.NodesDir), 0o755); err != nil {
		return apperrors.NewBackendFailure("init", err.Error(), err)
	}
	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		return nil
	}
	if _, err := g.run(ctx, "init", root, "init"); err != nil {
		return err
	}
	if _, err := g.run(ctx, "init", root, "config", "user.email", "loom@localhost"); err != nil {
		return err
	}
	if _, err := g.run(ctx, "init", root, "config", "user.name", "loom"); err != nil {
		return err
	}
	// Seed the node subtree so staging it always matches a path, even for
	// sessions that write nothing.
	keep := filepath.Join(root, graph.NodesDir, ".gitkeep")
	if err := os.WriteFile(keep, nil, 0o644); err != nil {
		return apperrors.NewBackendFailure("init", err.Error(), err)
	}
	if _, err := g.run(ctx, "init", root, "add", graph.NodesDir+"/"); err != nil {
		return err
	}
	if _, err := g.run(ctx, "init", root, "commit", "-m", "init"); err != nil {
		return err
	}
	g.logger.Info("initialized graph repository", zap.String("root", root))
	return nil
}

// Branch creates a worktree for a new branch snapshotted at the current
// trunk head and returns its path.
func (g *Git) Branch(ctx context.Context, root, name string) (string, error) {
	path := filepath.Join(os.TempDir(), name)
	if _, err := g.run(ctx, "branch", root, "worktree", "add", "-b", name, path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(path, graph.NodesDir), 0o755); err != nil {
		return "", apperrors.NewBackendFailure("branch", err.Error(), err)
	}
	return path, nil
}

// Commit stages nodes/ in the working copy at path and commits. Index and
// cache files outside nodes/ are never staged. Empty commits are allowed
// so a zero-change session still produces a mergeable branch tip.
func (g *Git) Commit(ctx context.Context, path, message string) (string, error) {
	if _, err := g.run(ctx, "commit", path, "add", graph.NodesDir+"/"); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "commit", path, "commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	out, err := g.run(ctx, "commit", path, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// MergeBranch folds the named branch into trunk. The caller's context is
// deliberately detached: once a merge starts it runs to a definite
// outcome, and a conflicted trunk is always rolled back before returning.
func (g *Git) MergeBranch(ctx context.Context, root, name string) (*MergeResult, error) {
	ctx = context.WithoutCancel(ctx)

	pre, err := g.run(ctx, "merge", root, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	pre = strings.TrimSpace(pre)

	cmd := exec.CommandContext(ctx, "git", "merge", "--no-edit", name)
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err == nil {
		head, err := g.run(ctx, "merge", root, "rev-parse", "HEAD")
		if err != nil {
			return nil, err
		}
		head = strings.TrimSpace(head)
		changed, err := g.changedBetween(ctx, root, pre, head)
		if err != nil {
			return nil, err
		}
		return &MergeResult{Success: true, Revision: head, Changed: changed}, nil
	}

	status, err := g.run(ctx, "merge", root, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	conflicts := unmergedPaths(status)
	if len(conflicts) == 0 {
		// The merge failed before producing conflicts (bad branch name,
		// corrupt repository); there is nothing to abort.
		return nil, apperrors.NewBackendFailure("merge", stderr.String(), nil)
	}
	if _, err := g.run(ctx, "merge", root, "merge", "--abort"); err != nil {
		return nil, err
	}
	return &MergeResult{Success: false, Conflicts: conflicts}, nil
}

// changedBetween lists the file paths that differ between two trunk
// revisions. Correct for fast-forward and true merge commits alike.
func (g *Git) changedBetween(ctx context.Context, root, from, to string) ([]string, error) {
	if from == to {
		return []string{}, nil
	}
	out, err := g.run(ctx, "merge", root, "diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}
	changed := []string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			changed = append(changed, line)
		}
	}
	return changed, nil
}

// unmergedPaths extracts every path in an unmerged state from porcelain
// status output. All unmerged codes count, not only both-modified.
func unmergedPaths(status string) []string {
	unmerged := map[string]bool{
		"DD": true, "AU": true, "UD": true, "UA": true,
		"DU": true, "AA": true, "UU": true,
	}
	paths := []string{}
	for _, line := range strings.Split(status, "\n") {
		if len(line) < 4 {
			continue
		}
		if unmerged[line[:2]] {
			paths = append(paths, line[3:])
		}
	}
	return paths
}

// Log lists commits newest first with the files each one touched. A log
// failure (no history yet) yields an empty list, not an error.
func (g *Git) Log(ctx context.Context, dir, since string, limit int) ([]Commit, error) {
	// Subject goes last: it is the only field that can itself contain the
	// separator.
	args := []string{"log", "--max-count=" + strconv.Itoa(limit), "--format=%H|%aI|%s"}
	if since != "" {
		args = append(args, "--since="+since)
	}
	raw, err := g.run(ctx, "log", dir, args...)
	if err != nil {
		g.logger.Debug("log unavailable", zap.String("dir", dir), zap.Error(err))
		return []Commit{}, nil
	}

	entries := []Commit{}
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) < 3 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			continue
		}
		files := []string{}
		diff, err := g.run(ctx, "log", dir, "diff-tree", "--no-commit-id", "--name-only", "-r", parts[0])
		if err == nil {
			for _, f := range strings.Split(strings.TrimSpace(diff), "\n") {
				if f != "" {
					files = append(files, f)
				}
			}
		}
		entries = append(entries, Commit{
			Revision:  parts[0],
			Message:   parts[2],
			Timestamp: ts,
			Changed:   files,
		})
	}
	return entries, nil
}

// RemoveBranch force-removes the worktree and deletes the branch. Both
// steps are best-effort: a second call, or teardown of a half-created
// session, finds nothing to remove and that is fine.
func (g *Git) RemoveBranch(ctx context.Context, root, path, name string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := g.run(ctx, "remove", root, "worktree", "remove", "--force", path); err != nil {
		g.logger.Debug("worktree removal skipped", zap.String("path", path), zap.Error(err))
	}
	if _, err := g.run(ctx, "remove", root, "branch", "-D", name); err != nil {
		g.logger.Debug("branch removal skipped", zap.String("branch", name), zap.Error(err))
	}
}
