package hive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cspellhq/hivenode/internal/apperr"
	"github.com/cspellhq/hivenode/internal/models"
)

// Store is the Hive's authoritative shared-task repository: idempotent
// node upserts, version-checked mutations, and the per-project activity
// log that backs bulk fetch (§4.5, §4.7).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an open Hive connection pool.
func NewStore(db *DB) *Store {
	return &Store{pool: db.Pool}
}

// UpsertFromNode idempotently creates or refreshes a shared task keyed on
// (sourceNodeID, sourceTaskID). A retried share call lands on the same row
// instead of creating a duplicate. Returns wasCreated so the caller can
// decide whether to log a task.created or task.updated activity event.
func (s *Store) UpsertFromNode(ctx context.Context, t *models.SharedTask) (wasCreated bool, err error) {
	if got := len(t.Title) + len(t.Description); got > models.MaxTaskTextBytes {
		return false, &apperr.PayloadTooLarge{Limit: models.MaxTaskTextBytes, Got: got}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	var version int64
	err = tx.QueryRow(ctx, `
		INSERT INTO shared_tasks (
			project_id, organization_id, creator_user_id, owner_node_id, owner_name,
			source_node_id, source_task_id, title, description, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (source_node_id, source_task_id) WHERE source_node_id IS NOT NULL AND source_task_id IS NOT NULL AND deleted_at IS NULL
		DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			version = shared_tasks.version + 1,
			updated_at = now()
		RETURNING id, version, (xmax = 0)`,
		t.ProjectID, t.OrganizationID, t.CreatorUserID, t.OwnerNodeID, t.OwnerName,
		t.SourceNodeID, t.SourceTaskID, t.Title, t.Description, string(t.Status),
	).Scan(&id, &version, &wasCreated)
	if err != nil {
		return false, fmt.Errorf("upsert shared task: %w", err)
	}

	eventType := models.ActivityTaskUpdated
	if wasCreated {
		eventType = models.ActivityTaskCreated
	}
	if err := appendActivity(ctx, tx, t.ProjectID, eventType, map[string]any{"shared_task_id": id}); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit upsert tx: %w", err)
	}
	t.ID = id
	t.Version = version
	return wasCreated, nil
}

// Update applies an edit under optimistic concurrency: expectedVersion must
// match the row's current version or the call fails with apperr.Conflict
// and no write occurs.
func (s *Store) Update(ctx context.Context, sharedTaskID string, title, description, status *string, expectedVersion int64) (*models.SharedTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := getForUpdate(ctx, tx, sharedTaskID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, &apperr.Conflict{Expected: expectedVersion, Actual: current.Version}
	}

	if title != nil {
		current.Title = *title
	}
	if description != nil {
		current.Description = *description
	}
	if status != nil {
		current.Status = models.TaskStatus(*status)
	}
	if got := len(current.Title) + len(current.Description); got > models.MaxTaskTextBytes {
		return nil, &apperr.PayloadTooLarge{Limit: models.MaxTaskTextBytes, Got: got}
	}

	_, err = tx.Exec(ctx, `
		UPDATE shared_tasks SET title=$1, description=$2, status=$3, version=version+1, updated_at=now()
		WHERE id=$4`, current.Title, current.Description, string(current.Status), sharedTaskID)
	if err != nil {
		return nil, fmt.Errorf("update shared task: %w", err)
	}
	current.Version++

	if err := appendActivity(ctx, tx, current.ProjectID, models.ActivityTaskUpdated, map[string]any{"shared_task_id": sharedTaskID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update tx: %w", err)
	}
	return current, nil
}

// Assign reassigns a shared task to assigneeUserID under the same
// optimistic-concurrency contract as Update.
func (s *Store) Assign(ctx context.Context, sharedTaskID, assigneeUserID string, expectedVersion int64) (*models.SharedTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin assign tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := getForUpdate(ctx, tx, sharedTaskID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, &apperr.Conflict{Expected: expectedVersion, Actual: current.Version}
	}

	_, err = tx.Exec(ctx, `
		UPDATE shared_tasks SET assignee_user_id=$1, version=version+1, updated_at=now()
		WHERE id=$2`, assigneeUserID, sharedTaskID)
	if err != nil {
		return nil, fmt.Errorf("assign shared task: %w", err)
	}
	current.AssigneeUserID = &assigneeUserID
	current.Version++

	if err := appendActivity(ctx, tx, current.ProjectID, models.ActivityTaskReassigned, map[string]any{"shared_task_id": sharedTaskID, "assignee_user_id": assigneeUserID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit assign tx: %w", err)
	}
	return current, nil
}

// Delete soft-deletes a shared task, recorded by deletedByUserID.
func (s *Store) Delete(ctx context.Context, sharedTaskID, deletedByUserID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := getForUpdate(ctx, tx, sharedTaskID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE shared_tasks SET deleted_at=now(), deleted_by_user_id=$1, version=version+1
		WHERE id=$2`, deletedByUserID, sharedTaskID)
	if err != nil {
		return fmt.Errorf("delete shared task: %w", err)
	}

	if err := appendActivity(ctx, tx, current.ProjectID, models.ActivityTaskDeleted, map[string]any{"shared_task_id": sharedTaskID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BulkFetch returns the live tasks, the ids deleted since sinceSeq, and the
// project's latest activity seq, all read inside a REPEATABLE READ
// transaction so the three results reflect one consistent snapshot (§4.7).
func (s *Store) BulkFetch(ctx context.Context, projectID string, sinceSeq int64) (tasks []*models.SharedTask, deletedIDs []string, latestSeq int64, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("begin bulk fetch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, project_id, organization_id, creator_user_id, assignee_user_id,
			executing_node_id, owner_node_id, owner_name, source_node_id, source_task_id,
			title, description, status, version, archived_at, shared_at, created_at, updated_at
		FROM shared_tasks WHERE project_id=$1 AND deleted_at IS NULL`, projectID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("query shared tasks: %w", err)
	}
	for rows.Next() {
		t := &models.SharedTask{}
		var status string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.OrganizationID, &t.CreatorUserID, &t.AssigneeUserID,
			&t.ExecutingNodeID, &t.OwnerNodeID, &t.OwnerName, &t.SourceNodeID, &t.SourceTaskID,
			&t.Title, &t.Description, &status, &t.Version, &t.ArchivedAt, &t.SharedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			rows.Close()
			return nil, nil, 0, fmt.Errorf("scan shared task: %w", err)
		}
		t.Status = models.TaskStatus(status)
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, 0, fmt.Errorf("iterate shared tasks: %w", err)
	}

	if sinceSeq > 0 {
		delRows, err := tx.Query(ctx, `
			SELECT payload->>'shared_task_id' FROM activity_log
			WHERE project_id=$1 AND event_type=$2 AND seq > $3`,
			projectID, string(models.ActivityTaskDeleted), sinceSeq)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("query deleted activity: %w", err)
		}
		for delRows.Next() {
			var id string
			if err := delRows.Scan(&id); err != nil {
				delRows.Close()
				return nil, nil, 0, fmt.Errorf("scan deleted id: %w", err)
			}
			deletedIDs = append(deletedIDs, id)
		}
		delRows.Close()
		if err := delRows.Err(); err != nil {
			return nil, nil, 0, fmt.Errorf("iterate deleted activity: %w", err)
		}
	}

	err = tx.QueryRow(ctx, `SELECT COALESCE(last_seq, 0) FROM project_activity_counter WHERE project_id=$1`, projectID).Scan(&latestSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		latestSeq = 0
	} else if err != nil {
		return nil, nil, 0, fmt.Errorf("query activity counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, 0, fmt.Errorf("commit bulk fetch tx: %w", err)
	}
	return tasks, deletedIDs, latestSeq, nil
}

// GetSharedTask returns a live shared task by id.
func (s *Store) GetSharedTask(ctx context.Context, sharedTaskID string) (*models.SharedTask, error) {
	t := &models.SharedTask{ID: sharedTaskID}
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT project_id, organization_id, creator_user_id, assignee_user_id,
			executing_node_id, owner_node_id, owner_name, title, description, status, version
		FROM shared_tasks WHERE id=$1 AND deleted_at IS NULL`, sharedTaskID,
	).Scan(&t.ProjectID, &t.OrganizationID, &t.CreatorUserID, &t.AssigneeUserID,
		&t.ExecutingNodeID, &t.OwnerNodeID, &t.OwnerName, &t.Title, &t.Description, &status, &t.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperr.NotFound{Kind: "shared_task", ID: sharedTaskID}
	}
	if err != nil {
		return nil, fmt.Errorf("get shared task: %w", err)
	}
	t.Status = models.TaskStatus(status)
	return t, nil
}

// ProjectOwner summarizes a project's identity as derived from its shared
// tasks: there is no separate Hive project directory in this design, a
// project's organization_id and the distinct nodes that have shared tasks
// into it are read straight off shared_tasks.
type ProjectOwner struct {
	OrganizationID string
}

// GetProjectOwner resolves a project's organization id from any one of its
// live shared tasks.
func (s *Store) GetProjectOwner(ctx context.Context, projectID string) (*ProjectOwner, error) {
	var orgID string
	err := s.pool.QueryRow(ctx, `
		SELECT organization_id FROM shared_tasks WHERE project_id=$1 AND deleted_at IS NULL LIMIT 1`, projectID,
	).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperr.NotFound{Kind: "project", ID: projectID}
	}
	if err != nil {
		return nil, fmt.Errorf("get project owner: %w", err)
	}
	return &ProjectOwner{OrganizationID: orgID}, nil
}

// ProjectNode is one node that owns (or has shared into) a project.
type ProjectNode struct {
	NodeID   string
	NodeName string
}

// GetProjectNodes lists the distinct nodes with live shared tasks in a
// project.
func (s *Store) GetProjectNodes(ctx context.Context, projectID string) ([]ProjectNode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT owner_node_id, owner_name FROM shared_tasks
		WHERE project_id=$1 AND deleted_at IS NULL`, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project nodes: %w", err)
	}
	defer rows.Close()

	var out []ProjectNode
	for rows.Next() {
		var n ProjectNode
		if err := rows.Scan(&n.NodeID, &n.NodeName); err != nil {
			return nil, fmt.Errorf("scan project node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func getForUpdate(ctx context.Context, tx pgx.Tx, sharedTaskID string) (*models.SharedTask, error) {
	t := &models.SharedTask{ID: sharedTaskID}
	var status string
	err := tx.QueryRow(ctx, `
		SELECT project_id, organization_id, creator_user_id, assignee_user_id, title, description, status, version
		FROM shared_tasks WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, sharedTaskID,
	).Scan(&t.ProjectID, &t.OrganizationID, &t.CreatorUserID, &t.AssigneeUserID, &t.Title, &t.Description, &status, &t.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperr.NotFound{Kind: "shared_task", ID: sharedTaskID}
	}
	if err != nil {
		return nil, fmt.Errorf("load shared task for update: %w", err)
	}
	t.Status = models.TaskStatus(status)
	return t, nil
}

// appendActivity bumps the project's activity seq and records one log
// entry, within the caller's transaction so seq assignment is atomic with
// the task mutation it describes.
func appendActivity(ctx context.Context, tx pgx.Tx, projectID string, eventType models.ActivityEventType, payload map[string]any) error {
	var seq int64
	err := tx.QueryRow(ctx, `
		INSERT INTO project_activity_counter (project_id, last_seq) VALUES ($1, 1)
		ON CONFLICT (project_id) DO UPDATE SET last_seq = project_activity_counter.last_seq + 1
		RETURNING last_seq`, projectID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("bump activity counter: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal activity payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO activity_log (project_id, seq, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`, projectID, seq, string(eventType), data, time.Now()); err != nil {
		return fmt.Errorf("append activity log: %w", err)
	}
	return nil
}
