package terminal

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
		CREATE TABLE terminal_sessions (
			id          TEXT PRIMARY KEY,
			path        TEXT NOT NULL,
			backend     TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			closed_at   INTEGER
		);`)
	require.NoError(t, err)
	return db
}

func TestInsertGetMarkClosed(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &models.TerminalSession{
		ID: "vk-abcd1234", Path: "/repos/demo", Backend: "/bin/bash", CreatedAt: 1,
	}))

	got, err := store.Get(ctx, "vk-abcd1234")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Nil(t, got.ClosedAt)

	require.NoError(t, store.MarkClosed(ctx, "vk-abcd1234", 99))
	got, err = store.Get(ctx, "vk-abcd1234")
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)
	require.EqualValues(t, 99, *got.ClosedAt)
}

func TestGetMissing(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSessionIDIsDeterministic(t *testing.T) {
	a := SessionID("/repos/demo")
	b := SessionID("/repos/demo")
	require.Equal(t, a, b)
	require.NotEqual(t, a, SessionID("/repos/other"))
	require.Len(t, a, len("vk-")+8)
}
