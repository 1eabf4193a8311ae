package gitops

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cspellhq/hivenode/internal/apperr"
)

// BranchStatus aggregates everything the UI needs to render a combined
// status header in a single synchronous query.
type BranchStatus struct {
	Ahead, Behind       int
	RemoteAhead, RemoteBehind int
	HeadOID             string
	UncommittedCount    int
	UntrackedCount      int
	RebaseInProgress    bool
	ConflictOp          string
	ConflictedFiles     []string
}

// GetBranchStatus computes ahead/behind vs target, local and remote-tracking,
// plus dirty-state and rebase/conflict info.
func GetBranchStatus(worktree, branch, target string) (*BranchStatus, error) {
	status := &BranchStatus{}

	head, err := HeadCommit(worktree)
	if err != nil {
		return nil, fmt.Errorf("head commit: %w", err)
	}
	status.HeadOID = head

	if ahead, behind, err := aheadBehind(worktree, stripRemotePrefix(target), branch); err == nil {
		status.Ahead, status.Behind = ahead, behind
	}
	if ahead, behind, err := aheadBehind(worktree, "origin/"+stripRemotePrefix(target), branch); err == nil {
		status.RemoteAhead, status.RemoteBehind = ahead, behind
	}

	if out, err := run(worktree, "status", "--porcelain"); err == nil {
		for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "??") {
				status.UntrackedCount++
			} else {
				status.UncommittedCount++
			}
		}
	}

	inProgress, _ := RebaseInProgress(worktree)
	status.RebaseInProgress = inProgress
	if files := conflictedFiles(worktree); len(files) > 0 {
		status.ConflictedFiles = files
		if inProgress {
			status.ConflictOp = string(apperr.OpRebase)
		} else {
			status.ConflictOp = string(apperr.OpMerge)
		}
	}

	return status, nil
}

func aheadBehind(repoPath, base, branch string) (int, int, error) {
	out, err := run(repoPath, "rev-list", "--left-right", "--count", base+"..."+stripRemotePrefix(branch))
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Fields(strings.TrimSpace(out))
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	behind, err1 := strconv.Atoi(parts[0])
	ahead, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("parse rev-list counts: %q", out)
	}
	return ahead, behind, nil
}

// PushToGitHub pushes branch from worktree, optionally forcing.
func (m *Manager) PushToGitHub(worktree, branch string, force bool) error {
	args := []string{"push", "-u", "origin", branch}
	if force {
		args = []string{"push", "-u", "--force-with-lease", "origin", branch}
	}
	out, err := run(worktree, args...)
	if err != nil {
		if !force && strings.Contains(out, "rejected") {
			return &apperr.PushRejected{Branch: branch, Reason: "non-fast-forward"}
		}
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// CommitAndPush stages all changes, commits (no-op if nothing staged), and
// pushes. Returns (committed bool, error).
func (m *Manager) CommitAndPush(worktree, message string) (bool, error) {
	if _, err := run(worktree, "add", "-A"); err != nil {
		return false, fmt.Errorf("git add: %w", err)
	}
	if err := hasStagedChanges(worktree); err == nil {
		return false, nil
	}
	if _, err := run(worktree, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("git commit: %w", err)
	}
	if out, err := run(worktree, "push", "-u", "origin", "HEAD"); err != nil {
		if strings.Contains(out, "rejected") {
			return true, &apperr.PushRejected{Branch: "HEAD", Reason: "non-fast-forward"}
		}
		return true, fmt.Errorf("git push: %w", err)
	}
	return true, nil
}

// DiffStats returns the unified diff of worktree against base (typically the
// attempt's target branch), plus per-file +/- line counts from --numstat.
func DiffStats(worktree, base string) (diff string, filesChanged, insertions, deletions int, err error) {
	diff, err = run(worktree, "diff", stripRemotePrefix(base)+"...HEAD")
	if err != nil {
		return "", 0, 0, 0, fmt.Errorf("diff: %w", err)
	}

	numstat, err := run(worktree, "diff", "--numstat", stripRemotePrefix(base)+"...HEAD")
	if err != nil {
		return "", 0, 0, 0, fmt.Errorf("diff --numstat: %w", err)
	}
	for _, line := range strings.Split(strings.TrimRight(numstat, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		filesChanged++
		if n, convErr := strconv.Atoi(fields[0]); convErr == nil {
			insertions += n
		}
		if n, convErr := strconv.Atoi(fields[1]); convErr == nil {
			deletions += n
		}
	}
	return diff, filesChanged, insertions, deletions, nil
}

// hasStagedChanges returns nil (success) iff there is nothing staged,
// mirroring `git diff --cached --quiet`'s exit-code convention.
func hasStagedChanges(worktree string) error {
	_, err := run(worktree, "diff", "--cached", "--quiet")
	return err
}
