// Package sharedtask is the node-side mirror of Hive-owned tasks: a local
// read cache keyed by the node's own task id, carrying the Hive
// shared_task_id, remote_version, and denormalized assignee fields used by
// the "time in column" UI. Queries are hand-written over database/sql, the
// same idiom internal/taskattempt's store uses, rather than a generated
// query layer.
package sharedtask

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cspellhq/hivenode/internal/models"
)

// Store mirrors shared-task metadata and remote-project cache rows.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open sqlite connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Mirror is the local row joining a task to its Hive counterpart.
type Mirror struct {
	LocalTaskID      string
	SharedTaskID     string
	RemoteVersion    int64
	AssigneeName     *string
	AssigneeUsername *string
	ActivityAt       *int64
	UpdatedAt        int64
}

// Upsert records (or refreshes) the mirror row for a local task, the
// idempotent half of the federation's (source_node_id, source_task_id)
// guarantee: calling it repeatedly with the same SharedTaskID simply
// overwrites the denormalized fields.
func (s *Store) Upsert(ctx context.Context, m *Mirror) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_task_mirror (local_task_id, shared_task_id, remote_version, assignee_name, assignee_username, activity_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_task_id) DO UPDATE SET
			shared_task_id=excluded.shared_task_id,
			remote_version=excluded.remote_version,
			assignee_name=excluded.assignee_name,
			assignee_username=excluded.assignee_username,
			activity_at=excluded.activity_at,
			updated_at=excluded.updated_at`,
		m.LocalTaskID, m.SharedTaskID, m.RemoteVersion, m.AssigneeName, m.AssigneeUsername, m.ActivityAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert shared task mirror: %w", err)
	}
	return nil
}

// GetByLocalTaskID returns the mirror row for a local task, or nil if the
// task has never been shared.
func (s *Store) GetByLocalTaskID(ctx context.Context, localTaskID string) (*Mirror, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT local_task_id, shared_task_id, remote_version, assignee_name, assignee_username, activity_at, updated_at
		FROM shared_task_mirror WHERE local_task_id = ?`, localTaskID)
	return scanMirror(row)
}

// GetBySharedTaskID returns the mirror row for a Hive task id, used when an
// inbound task_upsert arrives and the node must find its local task.
func (s *Store) GetBySharedTaskID(ctx context.Context, sharedTaskID string) (*Mirror, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT local_task_id, shared_task_id, remote_version, assignee_name, assignee_username, activity_at, updated_at
		FROM shared_task_mirror WHERE shared_task_id = ?`, sharedTaskID)
	return scanMirror(row)
}

// ClearSharedTaskID drops the mirror row for a local task, used when a
// disconnected node must fall back to a local-only edit after its
// shared_task_id is no longer honored by the Hive (§7, transport-level 404
// while disconnected).
func (s *Store) ClearSharedTaskID(ctx context.Context, localTaskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shared_task_mirror WHERE local_task_id = ?`, localTaskID)
	if err != nil {
		return fmt.Errorf("clear shared task mirror: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMirror(row rowScanner) (*Mirror, error) {
	m := &Mirror{}
	err := row.Scan(&m.LocalTaskID, &m.SharedTaskID, &m.RemoteVersion, &m.AssigneeName, &m.AssigneeUsername, &m.ActivityAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan shared task mirror: %w", err)
	}
	return m, nil
}

// UpsertCachedNodeProject refreshes the denormalized remote-project cache
// row the proxy router reads from, keeping node status/URL fresh without a
// Hive round trip per forwarded request.
func (s *Store) UpsertCachedNodeProject(ctx context.Context, p *models.CachedNodeProject) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_node_projects (remote_project_id, source_node_id, node_name, node_status, node_public_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote_project_id) DO UPDATE SET
			source_node_id=excluded.source_node_id,
			node_name=excluded.node_name,
			node_status=excluded.node_status,
			node_public_url=excluded.node_public_url,
			updated_at=excluded.updated_at`,
		p.RemoteProjectID, p.SourceNodeID, p.NodeName, p.NodeStatus, p.NodePublicURL, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cached node project: %w", err)
	}
	return nil
}

// GetCachedNodeProject looks up the last-known owning node for a remote
// project, consumed by internal/proxy.
func (s *Store) GetCachedNodeProject(ctx context.Context, remoteProjectID string) (*models.CachedNodeProject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT remote_project_id, source_node_id, node_name, node_status, node_public_url, updated_at
		FROM cached_node_projects WHERE remote_project_id = ?`, remoteProjectID)

	p := &models.CachedNodeProject{}
	err := row.Scan(&p.RemoteProjectID, &p.SourceNodeID, &p.NodeName, &p.NodeStatus, &p.NodePublicURL, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cached node project: %w", err)
	}
	return p, nil
}

// DeleteStaleRemoteProjects removes remote projects belonging to
// sourceNodeID that are absent from activeIDs. Scoped to sourceNodeID per
// the federation contract so a stale sweep can never delete another node's
// rows; an empty activeIDs is a safety no-op rather than "delete all".
func (s *Store) DeleteStaleRemoteProjects(ctx context.Context, sourceNodeID string, activeIDs []string) error {
	if len(activeIDs) == 0 {
		return nil
	}

	placeholders := make([]string, len(activeIDs))
	args := make([]any, 0, len(activeIDs)+1)
	args = append(args, sourceNodeID)
	for i, id := range activeIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		DELETE FROM projects
		WHERE is_remote = 1 AND source_node_id = ? AND remote_project_id NOT IN (%s)`,
		join(placeholders, ","))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete stale remote projects: %w", err)
	}
	return nil
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
