package gitops

import (
	"fmt"
	"os"
	"strings"

	"github.com/cspellhq/hivenode/internal/apperr"
)

// MergeChanges creates a merge commit on targetBranch incorporating branch,
// run from repoPath (the bare/main checkout, not the attempt worktree). On
// conflict it aborts the merge and leaves the working tree untouched.
func (m *Manager) MergeChanges(repoPath, branch, targetBranch, message string) (string, error) {
	target := stripRemotePrefix(targetBranch)
	if _, err := run(repoPath, "checkout", target); err != nil {
		return "", fmt.Errorf("checkout %s: %w", target, err)
	}

	out, err := run(repoPath, "merge", "--no-ff", "-m", message, stripRemotePrefix(branch))
	if err != nil {
		if isConflictOutput(out) {
			files := conflictedFiles(repoPath)
			_, _ = run(repoPath, "merge", "--abort")
			return "", &apperr.MergeConflicts{Op: apperr.OpMerge, Files: files}
		}
		return "", fmt.Errorf("merge %s into %s: %w", branch, target, err)
	}

	oid, err := HeadCommit(repoPath)
	if err != nil {
		return "", fmt.Errorf("read merge commit oid: %w", err)
	}
	return oid, nil
}

// RebaseBranch performs an onto-style rebase of branch, checked out in
// worktree, from oldBase onto newBase.
func (m *Manager) RebaseBranch(worktree, newBase, oldBase, branch string) error {
	if inProgress, _ := RebaseInProgress(worktree); inProgress {
		return &apperr.RebaseInProgress{Path: worktree}
	}
	out, err := run(worktree, "rebase", "--onto", stripRemotePrefix(newBase), stripRemotePrefix(oldBase), stripRemotePrefix(branch))
	if err != nil {
		if isConflictOutput(out) {
			files := conflictedFiles(worktree)
			return &apperr.MergeConflicts{Op: apperr.OpRebase, Files: files}
		}
		return fmt.Errorf("rebase %s onto %s: %w", branch, newBase, err)
	}
	return nil
}

// RebaseInProgress reports whether worktree has an in-progress rebase, by
// checking for git's own state directories.
func RebaseInProgress(worktree string) (bool, error) {
	for _, d := range []string{".git/rebase-merge", ".git/rebase-apply"} {
		if _, err := os.Stat(worktree + "/" + d); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// AbortConflicts restores a clean state from either an in-progress rebase
// or a conflicted merge.
func (m *Manager) AbortConflicts(worktree string) error {
	if inProgress, _ := RebaseInProgress(worktree); inProgress {
		_, err := run(worktree, "rebase", "--abort")
		return err
	}
	_, err := run(worktree, "merge", "--abort")
	return err
}

// StashChanges stashes the worktree's dirty state and returns a stash ref.
func (m *Manager) StashChanges(path, msg string) (string, error) {
	args := []string{"stash", "push"}
	if msg != "" {
		args = append(args, "-m", msg)
	}
	if _, err := run(path, args...); err != nil {
		return "", fmt.Errorf("stash push: %w", err)
	}
	ref, err := run(path, "rev-parse", "stash@{0}")
	if err != nil {
		return "", fmt.Errorf("resolve stash ref: %w", err)
	}
	return strings.TrimSpace(ref), nil
}

// PopStash pops the most recent stash entry.
func (m *Manager) PopStash(path string) error {
	_, err := run(path, "stash", "pop")
	return err
}

func isConflictOutput(out string) bool {
	return strings.Contains(out, "CONFLICT") || strings.Contains(out, "Automatic merge failed")
}

func conflictedFiles(path string) []string {
	out, err := run(path, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var files []string
	for _, f := range strings.Split(strings.TrimSpace(out), "\n") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}
