// Package project is the node's local project repository: registered git
// checkouts (local or linked-remote), queried the same hand-written-SQL way
// as internal/taskattempt's store.
package project

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cspellhq/hivenode/internal/models"
)

// Store persists projects.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open sqlite connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert records a new project.
func (s *Store) Insert(ctx context.Context, p *models.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (
			id, name, repo_path, setup_script, dev_script, cleanup_script,
			remote_project_id, is_remote, source_node_id, source_node_name, source_node_status,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.RepoPath, p.SetupScript, p.DevScript, p.CleanupScript,
		p.RemoteProjectID, p.IsRemote, p.SourceNodeID, p.SourceNodeName, p.SourceNodeStatus,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// Get returns a project by id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, repo_path, setup_script, dev_script, cleanup_script,
			remote_project_id, is_remote, source_node_id, source_node_name, source_node_status,
			created_at, updated_at
		FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// GetByRemoteProjectID looks up the local project linked to a Hive project,
// used by the sync handler and the proxy's project resolution.
func (s *Store) GetByRemoteProjectID(ctx context.Context, remoteProjectID string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, repo_path, setup_script, dev_script, cleanup_script,
			remote_project_id, is_remote, source_node_id, source_node_name, source_node_status,
			created_at, updated_at
		FROM projects WHERE remote_project_id = ?`, remoteProjectID)
	return scanProject(row)
}

// List returns every registered project.
func (s *Store) List(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, repo_path, setup_script, dev_script, cleanup_script,
			remote_project_id, is_remote, source_node_id, source_node_name, source_node_status,
			created_at, updated_at
		FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a project by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(&p.ID, &p.Name, &p.RepoPath, &p.SetupScript, &p.DevScript, &p.CleanupScript,
		&p.RemoteProjectID, &p.IsRemote, &p.SourceNodeID, &p.SourceNodeName, &p.SourceNodeStatus,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return p, nil
}
