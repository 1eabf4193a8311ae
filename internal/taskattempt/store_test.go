package taskattempt

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/cspellhq/hivenode/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'todo',
			parent_task_id TEXT,
			shared_task_id TEXT,
			remote_version INTEGER NOT NULL DEFAULT 0,
			vars TEXT NOT NULL DEFAULT '{}',
			archived_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE task_attempts (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			executor TEXT NOT NULL,
			branch TEXT NOT NULL,
			target_branch TEXT NOT NULL,
			container_ref TEXT,
			worktree_deleted INTEGER NOT NULL DEFAULT 0,
			use_parent_worktree INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE merges (
			id TEXT PRIMARY KEY,
			attempt_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			merge_commit_oid TEXT,
			pr_number INTEGER,
			pr_url TEXT,
			pr_status TEXT,
			created_at INTEGER NOT NULL
		);`)
	require.NoError(t, err)
	return db
}

func TestParentChainResolvesNearestParentFirst(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	root := &models.Task{ID: "root", ProjectID: "p1", Title: "root", Status: models.StatusTodo, CreatedAt: 1, UpdatedAt: 1, Vars: map[string]string{"REPO": "root-repo"}}
	require.NoError(t, store.InsertTask(ctx, root))

	mid := &models.Task{ID: "mid", ProjectID: "p1", Title: "mid", Status: models.StatusTodo, ParentTaskID: strPtr("root"), CreatedAt: 2, UpdatedAt: 2}
	require.NoError(t, store.InsertTask(ctx, mid))

	leaf := &models.Task{ID: "leaf", ProjectID: "p1", Title: "leaf", Status: models.StatusTodo, ParentTaskID: strPtr("mid"), CreatedAt: 3, UpdatedAt: 3, Vars: map[string]string{"REPO": "leaf-repo"}}
	require.NoError(t, store.InsertTask(ctx, leaf))

	got, err := store.GetTask(ctx, "leaf")
	require.NoError(t, err)
	require.Equal(t, "leaf-repo", got.Vars["REPO"])

	chain, err := store.ParentChain(ctx, got)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, "mid", chain[0].ID, "nearest parent first")
	require.Equal(t, "root", chain[1].ID)
}

func TestLatestMergeReturnsMostRecent(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.InsertMerge(ctx, &models.Merge{ID: "m1", AttemptID: "a1", Kind: models.MergeDirect, CreatedAt: 1}))
	require.NoError(t, store.InsertMerge(ctx, &models.Merge{ID: "m2", AttemptID: "a1", Kind: models.MergeDirect, CreatedAt: 2}))

	latest, err := store.LatestMerge(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "m2", latest.ID)

	none, err := store.LatestMerge(ctx, "a-nonexistent")
	require.NoError(t, err)
	require.Nil(t, none)
}

func strPtr(s string) *string { return &s }
