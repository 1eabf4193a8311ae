package project

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
		CREATE TABLE projects (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL,
			repo_path           TEXT NOT NULL,
			setup_script        TEXT,
			dev_script          TEXT,
			cleanup_script      TEXT,
			remote_project_id   TEXT,
			is_remote           INTEGER NOT NULL DEFAULT 0,
			source_node_id      TEXT,
			source_node_name    TEXT,
			source_node_status  TEXT,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX idx_projects_repo_path ON projects(repo_path) WHERE is_remote = 0;
		CREATE UNIQUE INDEX idx_projects_remote_project_id ON projects(remote_project_id) WHERE remote_project_id IS NOT NULL;`)
	require.NoError(t, err)
	return db
}

func TestInsertGetDelete(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	p := &models.Project{
		ID: "p1", Name: "demo", RepoPath: "/repos/demo",
		CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, store.Insert(ctx, p))

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "demo", got.Name)
	require.False(t, got.IsRemote)

	require.NoError(t, store.Delete(ctx, "p1"))
	got, err = store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetByRemoteProjectID(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	remote := "rp-1"
	p := &models.Project{
		ID: "p1", Name: "linked", RepoPath: "/repos/linked",
		RemoteProjectID: &remote, IsRemote: true,
		CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, store.Insert(ctx, p))

	got, err := store.GetByRemoteProjectID(ctx, remote)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "p1", got.ID)

	got, err = store.GetByRemoteProjectID(ctx, "nonexistent")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestList(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &models.Project{ID: "p1", Name: "a", RepoPath: "/a", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, store.Insert(ctx, &models.Project{ID: "p2", Name: "b", RepoPath: "/b", CreatedAt: 2, UpdatedAt: 2}))

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
