package terminal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cspellhq/hivenode/internal/models"
)

// Store persists terminal session metadata. Hand-written SQL over
// database/sql, the same idiom internal/taskattempt's store uses.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open sqlite connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert records a newly opened session.
func (s *Store) Insert(ctx context.Context, t *models.TerminalSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminal_sessions (id, path, backend, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Path, t.Backend, t.CreatedAt, t.ClosedAt)
	if err != nil {
		return fmt.Errorf("insert terminal session: %w", err)
	}
	return nil
}

// Get returns a session by id, or nil if it was never opened or the row
// does not exist.
func (s *Store) Get(ctx context.Context, id string) (*models.TerminalSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, backend, created_at, closed_at FROM terminal_sessions WHERE id = ?`, id)
	t := &models.TerminalSession{}
	err := row.Scan(&t.ID, &t.Path, &t.Backend, &t.CreatedAt, &t.ClosedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan terminal session: %w", err)
	}
	return t, nil
}

// MarkClosed records the session's close time.
func (s *Store) MarkClosed(ctx context.Context, id string, closedAt int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE terminal_sessions SET closed_at = ? WHERE id = ?`, closedAt, id)
	if err != nil {
		return fmt.Errorf("close terminal session: %w", err)
	}
	return nil
}
