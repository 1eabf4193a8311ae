// Package taskattempt implements the task-attempt engine: starting and
// following up coding-agent runs inside a worktree, retrying from an earlier
// process, merging and rebasing the result, and reporting combined branch
// status. It is the point where internal/gitops, internal/process, and
// internal/normalizer are wired together against one task.
package taskattempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cspellhq/hivenode/internal/apperr"
	"github.com/cspellhq/hivenode/internal/models"
)

// Store persists Task, TaskAttempt, and Merge rows.
type Store struct {
	db *sql.DB
}

// NewStore wraps a *sql.DB for task-attempt persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertTask records a new task row.
func (s *Store) InsertTask(ctx context.Context, t *models.Task) error {
	vars, err := json.Marshal(nonNilVars(t.Vars))
	if err != nil {
		return fmt.Errorf("marshal task vars: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, parent_task_id,
		                    shared_task_id, remote_version, vars, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.ParentTaskID,
		t.SharedTaskID, t.RemoteVersion, string(vars), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func nonNilVars(v map[string]string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v
}

// GetTask loads one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, status, parent_task_id,
		       shared_task_id, remote_version, vars, archived_at, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &apperr.NotFound{Kind: "task", ID: id}
		}
		return nil, err
	}
	return t, nil
}

// ParentChain returns t's ancestors, nearest-parent-first, by walking
// parent_task_id until reaching a root. Cycles are not expected (the writer
// disallows setting a parent that is a descendant) but the walk still bounds
// itself defensively against a corrupt chain.
func (s *Store) ParentChain(ctx context.Context, t *models.Task) ([]*models.Task, error) {
	var chain []*models.Task
	seen := map[string]bool{t.ID: true}
	cur := t
	for cur.ParentTaskID != nil && len(chain) < 64 {
		parent, err := s.GetTask(ctx, *cur.ParentTaskID)
		if err != nil {
			return nil, err
		}
		if seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		chain = append(chain, parent)
		cur = parent
	}
	return chain, nil
}

// UpdateTaskStatus transitions a task's status.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, now int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(r scanner) (*models.Task, error) {
	var t models.Task
	var vars string
	if err := r.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.ParentTaskID,
		&t.SharedTaskID, &t.RemoteVersion, &vars, &t.ArchivedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if vars != "" {
		if err := json.Unmarshal([]byte(vars), &t.Vars); err != nil {
			return nil, fmt.Errorf("unmarshal task vars: %w", err)
		}
	}
	return &t, nil
}

// InsertAttempt records a new task-attempt row.
func (s *Store) InsertAttempt(ctx context.Context, a *models.TaskAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_attempts (id, task_id, executor, branch, target_branch,
		                            container_ref, worktree_deleted, use_parent_worktree,
		                            created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.Executor, a.Branch, a.TargetBranch,
		a.ContainerRef, a.WorktreeDeleted, a.UseParentWorktree, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task attempt: %w", err)
	}
	return nil
}

// GetAttempt loads one attempt by id.
func (s *Store) GetAttempt(ctx context.Context, id string) (*models.TaskAttempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, executor, branch, target_branch, container_ref,
		       worktree_deleted, use_parent_worktree, created_at, updated_at
		FROM task_attempts WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &apperr.NotFound{Kind: "task_attempt", ID: id}
		}
		return nil, err
	}
	return a, nil
}

// MostRecentAttempt returns the latest attempt for a task, or nil if the task
// has none yet. Used to resolve a parent task's container_ref for
// use_parent_worktree adoption.
func (s *Store) MostRecentAttempt(ctx context.Context, taskID string) (*models.TaskAttempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, executor, branch, target_branch, container_ref,
		       worktree_deleted, use_parent_worktree, created_at, updated_at
		FROM task_attempts WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`, taskID)
	a, err := scanAttempt(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func scanAttempt(r scanner) (*models.TaskAttempt, error) {
	var a models.TaskAttempt
	if err := r.Scan(
		&a.ID, &a.TaskID, &a.Executor, &a.Branch, &a.TargetBranch, &a.ContainerRef,
		&a.WorktreeDeleted, &a.UseParentWorktree, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// SetTargetBranch updates an attempt's target_branch (change_target_branch).
func (s *Store) SetTargetBranch(ctx context.Context, attemptID, targetBranch string, now int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE task_attempts SET target_branch = ?, updated_at = ? WHERE id = ?`,
		targetBranch, now, attemptID)
	if err != nil {
		return fmt.Errorf("set target branch: %w", err)
	}
	return nil
}

// RenameBranch updates an attempt's branch name in place (the worktree's git
// branch itself is renamed by the caller before this is called).
func (s *Store) RenameBranch(ctx context.Context, attemptID, newBranch string, now int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE task_attempts SET branch = ?, updated_at = ? WHERE id = ?`,
		newBranch, now, attemptID)
	if err != nil {
		return fmt.Errorf("rename branch: %w", err)
	}
	return nil
}

// MarkWorktreeDeleted records that an attempt's worktree no longer exists on
// disk, without clearing container_ref (the path is kept for audit/history).
func (s *Store) MarkWorktreeDeleted(ctx context.Context, attemptID string, now int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE task_attempts SET worktree_deleted = 1, updated_at = ? WHERE id = ?`,
		now, attemptID)
	if err != nil {
		return fmt.Errorf("mark worktree deleted: %w", err)
	}
	return nil
}

// InsertMerge records a merge-back event for an attempt.
func (s *Store) InsertMerge(ctx context.Context, m *models.Merge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merges (id, attempt_id, kind, merge_commit_oid, pr_number, pr_url, pr_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AttemptID, m.Kind, m.MergeCommitOID, m.PRNumber, m.PRURL, m.PRStatus, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert merge: %w", err)
	}
	return nil
}

// LatestMerge returns the most recently created Merge row for an attempt, or
// nil if the attempt has never been merged.
func (s *Store) LatestMerge(ctx context.Context, attemptID string) (*models.Merge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, attempt_id, kind, merge_commit_oid, pr_number, pr_url, pr_status, created_at
		FROM merges WHERE attempt_id = ? ORDER BY created_at DESC LIMIT 1`, attemptID)
	var m models.Merge
	err := row.Scan(&m.ID, &m.AttemptID, &m.Kind, &m.MergeCommitOID, &m.PRNumber, &m.PRURL, &m.PRStatus, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest merge: %w", err)
	}
	return &m, nil
}

// UpdateMergePR updates a PR-backed merge's tracked status (open/merged/closed).
func (s *Store) UpdateMergePR(ctx context.Context, id string, status models.PRStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE merges SET pr_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update merge pr status: %w", err)
	}
	return nil
}
