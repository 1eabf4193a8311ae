package gitops

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cspellhq/hivenode/internal/apperr"
)

// BranchExists reports whether branch exists either as a local ref or a
// remote-tracking ref ("origin/<branch>"), stripping any remote prefix
// before checking so callers can pass either form uniformly.
func BranchExists(repoPath, branch string) bool {
	name := stripRemotePrefix(branch)
	if _, err := run(repoPath, "rev-parse", "--verify", "refs/heads/"+name); err == nil {
		return true
	}
	if _, err := run(repoPath, "rev-parse", "--verify", "refs/remotes/origin/"+name); err == nil {
		return true
	}
	return false
}

// CreateWorktree creates a worktree at Manager.WorktreePath(attemptID), on
// branch, based on baseBranch if branch does not already exist. Creation is
// atomic from the caller's point of view: on failure the directory is
// removed so it is never left as a partially-checked-out worktree.
func (m *Manager) CreateWorktree(repoPath, attemptID, branch, baseBranch string) (string, error) {
	path := m.WorktreePath(attemptID)
	if baseBranch == "" {
		baseBranch = defaultBranch(repoPath)
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir worktrees dir: %w", err)
	}

	var out string
	var err error
	if BranchExists(repoPath, branch) {
		out, err = run(repoPath, "worktree", "add", path, stripRemotePrefix(branch))
	} else {
		out, err = run(repoPath, "worktree", "add", "-b", branch, path, stripRemotePrefix(baseBranch))
	}
	if err != nil {
		slog.Error("[GIT] worktree add failed", "output", out)
		_ = os.RemoveAll(path)
		return "", fmt.Errorf("create worktree: %w", err)
	}
	slog.Info("[GIT] created worktree", "attempt_id", attemptID, "branch", branch, "path", path)
	return path, nil
}

// CleanupWorktree removes the worktree registration and directory. A
// missing directory is not an error; a dirty worktree is not an error
// either, since cleanup is unconditional.
func (m *Manager) CleanupWorktree(repoPath, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if repoPath != "" {
			_, _ = run(repoPath, "worktree", "prune")
		}
		return nil
	}
	if repoPath != "" {
		if _, err := run(repoPath, "worktree", "remove", "--force", path); err != nil {
			slog.Warn("[GIT] worktree remove failed, forcing directory removal", "error", err)
		}
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove worktree dir: %w", err)
	}
	if repoPath != "" {
		_, _ = run(repoPath, "worktree", "prune")
	}
	return nil
}

// ReconcileOptions configures ReconcileWorktreeToCommit.
type ReconcileOptions struct {
	DoReset         bool
	ForceWhenDirty  bool
	IsDirty         bool
	ThenClean       bool
}

// ReconcileWorktreeToCommit resets worktree to targetOID, used on retry or
// restore. If the worktree is dirty and ForceWhenDirty is false, aborts
// with a precondition error rather than discarding work silently.
func (m *Manager) ReconcileWorktreeToCommit(path, targetOID string, opts ReconcileOptions) error {
	if opts.IsDirty && !opts.ForceWhenDirty {
		return &apperr.Precondition{Subcode: "worktree_dirty", Reason: "worktree has uncommitted changes"}
	}
	if !opts.DoReset {
		return nil
	}
	if _, err := run(path, "reset", "--hard", targetOID); err != nil {
		slog.Warn("[GIT] reset to commit failed", "target", targetOID, "error", err)
		return fmt.Errorf("reset to %s: %w", targetOID, err)
	}
	if opts.ThenClean {
		if _, err := run(path, "clean", "-fd"); err != nil {
			slog.Warn("[GIT] clean -fd failed (best effort)", "error", err)
		}
	}
	return nil
}

// HeadCommit returns the current HEAD commit oid of path.
func HeadCommit(path string) (string, error) {
	out, err := run(path, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
