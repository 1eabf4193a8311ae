package process

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
		CREATE TABLE execution_processes (
			id TEXT PRIMARY KEY,
			attempt_id TEXT NOT NULL,
			run_reason TEXT NOT NULL,
			executor_action BLOB,
			status TEXT NOT NULL,
			exit_code INTEGER,
			pid INTEGER,
			before_head_commit TEXT,
			after_head_commit TEXT,
			dropped INTEGER NOT NULL DEFAULT 0,
			server_instance_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		);
		CREATE TABLE executor_sessions (
			process_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`)
	require.NoError(t, err)
	return db
}

func TestMarkOrphansFailedExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	proc := &models.ExecutionProcess{
		ID: "p1", AttemptID: "a1", RunReason: models.RunReasonCodingAgent,
		Status: models.ProcessRunning, ServerInstanceID: "OLD", CreatedAt: 1,
	}
	require.NoError(t, store.Insert(ctx, proc))

	n, err := store.MarkOrphansFailed(ctx, "NEW", 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, models.ProcessFailed, got.Status)
	require.Nil(t, got.ExitCode)
	require.NotNil(t, got.CompletedAt)
	require.EqualValues(t, 100, *got.CompletedAt)

	// Running again a second time is a no-op: the row is now terminal.
	n, err = store.MarkOrphansFailed(ctx, "NEW", 200)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDropMonotonicity(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, store.Insert(ctx, &models.ExecutionProcess{
			ID: id, AttemptID: "a1", RunReason: models.RunReasonCodingAgent,
			Status: models.ProcessRunning, ServerInstanceID: "N", CreatedAt: int64(i),
		}))
	}

	require.NoError(t, store.SetRestoreBoundary(ctx, "a1", "p2"))

	p1, _ := store.Get(ctx, "p1")
	p2, _ := store.Get(ctx, "p2")
	p3, _ := store.Get(ctx, "p3")
	require.False(t, p1.Dropped)
	require.False(t, p2.Dropped, "boundary itself is not dropped by SetRestoreBoundary")
	require.True(t, p3.Dropped)

	// A later restore boundary earlier in time must never undrop p3.
	require.NoError(t, store.SetRestoreBoundary(ctx, "a1", "p1"))
	p3, _ = store.Get(ctx, "p3")
	require.True(t, p3.Dropped)
}

func TestFindSessionIDBeforeProcess(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, store.Insert(ctx, &models.ExecutionProcess{
			ID: id, AttemptID: "a1", RunReason: models.RunReasonCodingAgent,
			Status: models.ProcessRunning, ServerInstanceID: "N", CreatedAt: int64(i),
		}))
	}
	require.NoError(t, store.UpsertExecutorSession(ctx, "p1", "sess-1", 0))
	require.NoError(t, store.UpsertExecutorSession(ctx, "p2", "sess-2", 1))

	sessionID, err := store.FindSessionIDBeforeProcess(ctx, "a1", "p3")
	require.NoError(t, err)
	require.Equal(t, "sess-2", sessionID)

	sessionID, err = store.FindSessionIDBeforeProcess(ctx, "a1", "p1")
	require.NoError(t, err)
	require.Empty(t, sessionID)
}
