package gitops

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func mustRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func newBareRepoWithCommit(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustRun(t, dir, "init", "-b", "main")
	mustRun(t, dir, "config", "user.email", "test@example.com")
	mustRun(t, dir, "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustRun(t, dir, "add", "-A")
	mustRun(t, dir, "commit", "-m", "initial")
	return dir
}

func TestCreateAndCleanupWorktree(t *testing.T) {
	repo := newBareRepoWithCommit(t)
	state := t.TempDir()
	m := NewManager(state)

	attemptID := "a1b2c3d4e5f6"
	branch := BranchName("Fix the bug", attemptID)

	path, err := m.CreateWorktree(repo, attemptID, branch, "main")
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("worktree directory missing: %v", err)
	}

	// Re-creating is idempotent: returns the existing path without error.
	path2, err := m.CreateWorktree(repo, attemptID, branch, "main")
	if err != nil || path2 != path {
		t.Fatalf("expected idempotent create, got path=%q err=%v", path2, err)
	}

	if err := m.CleanupWorktree(repo, path); err != nil {
		t.Fatalf("CleanupWorktree: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected worktree directory removed, stat err=%v", err)
	}

	// Cleanup of an already-missing worktree is not an error.
	if err := m.CleanupWorktree(repo, path); err != nil {
		t.Fatalf("CleanupWorktree on missing dir should be a no-op, got: %v", err)
	}
}

func TestReconcileWorktreeToCommitRefusesDirty(t *testing.T) {
	repo := newBareRepoWithCommit(t)
	state := t.TempDir()
	m := NewManager(state)
	attemptID := "deadbeefcafe"
	branch := BranchName("Reconcile test", attemptID)

	path, err := m.CreateWorktree(repo, attemptID, branch, "main")
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	head, err := HeadCommit(path)
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}

	err = m.ReconcileWorktreeToCommit(path, head, ReconcileOptions{
		DoReset:        true,
		ForceWhenDirty: false,
		IsDirty:        true,
	})
	if err == nil {
		t.Fatal("expected precondition error for dirty worktree without force")
	}
}
