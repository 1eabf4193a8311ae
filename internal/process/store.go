// Package process supervises coding-agent and script subprocesses: spawning
// them inside a worktree, recording PID and head commits, streaming their
// stdout/stderr to registered line handlers, and persisting the resulting
// state machine (Running -> {Completed, Failed, Killed}).
package process

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cspellhq/hivenode/internal/apperr"
	"github.com/cspellhq/hivenode/internal/models"
)

// Store persists ExecutionProcess and ExecutorSession rows.
type Store struct {
	db *sql.DB
}

// NewStore wraps a *sql.DB for process persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert records a newly spawned process in the Running state.
func (s *Store) Insert(ctx context.Context, p *models.ExecutionProcess) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_processes
			(id, attempt_id, run_reason, executor_action, status, pid,
			 before_head_commit, server_instance_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AttemptID, p.RunReason, p.ExecutorAction, p.Status, p.PID,
		p.BeforeHeadCommit, p.ServerInstanceID, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution process: %w", err)
	}
	return nil
}

// Get loads one process by id.
func (s *Store) Get(ctx context.Context, id string) (*models.ExecutionProcess, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, attempt_id, run_reason, executor_action, status, exit_code, pid,
		       before_head_commit, after_head_commit, dropped, server_instance_id,
		       created_at, completed_at
		FROM execution_processes WHERE id = ?`, id)
	p, err := scanProcess(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &apperr.NotFound{Kind: "execution_process", ID: id}
		}
		return nil, err
	}
	return p, nil
}

// ListByAttempt returns processes for an attempt, newest first. When
// includeDropped is false, dropped rows are excluded (the "current history"
// view); when true, every row is returned (the full "Processes" listing).
func (s *Store) ListByAttempt(ctx context.Context, attemptID string, includeDropped bool) ([]*models.ExecutionProcess, error) {
	query := `
		SELECT id, attempt_id, run_reason, executor_action, status, exit_code, pid,
		       before_head_commit, after_head_commit, dropped, server_instance_id,
		       created_at, completed_at
		FROM execution_processes WHERE attempt_id = ?`
	if !includeDropped {
		query += ` AND dropped = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list execution processes: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionProcess
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MostRecentCodingAgent returns the most recent non-dropped CodingAgent
// process for an attempt, or nil if there is none.
func (s *Store) MostRecentCodingAgent(ctx context.Context, attemptID string) (*models.ExecutionProcess, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, attempt_id, run_reason, executor_action, status, exit_code, pid,
		       before_head_commit, after_head_commit, dropped, server_instance_id,
		       created_at, completed_at
		FROM execution_processes
		WHERE attempt_id = ? AND run_reason = ? AND dropped = 0
		ORDER BY created_at DESC LIMIT 1`, attemptID, models.RunReasonCodingAgent)
	p, err := scanProcess(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProcess(r scanner) (*models.ExecutionProcess, error) {
	var p models.ExecutionProcess
	if err := r.Scan(
		&p.ID, &p.AttemptID, &p.RunReason, &p.ExecutorAction, &p.Status, &p.ExitCode, &p.PID,
		&p.BeforeHeadCommit, &p.AfterHeadCommit, &p.Dropped, &p.ServerInstanceID,
		&p.CreatedAt, &p.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// Complete marks a process terminal (Completed, Failed or Killed), recording the
// exit code, after-head commit, and completion time. Transitions from a
// terminal state are rejected as an invariant violation.
func (s *Store) Complete(ctx context.Context, id string, status models.ProcessStatus, exitCode *int, afterHead *string, completedAt int64) error {
	if !status.IsTerminal() {
		return fmt.Errorf("process: Complete called with non-terminal status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_processes
		SET status = ?, exit_code = ?, after_head_commit = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		status, exitCode, afterHead, completedAt, id, models.ProcessRunning,
	)
	if err != nil {
		return fmt.Errorf("complete execution process: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("process: %s is not Running, refusing terminal transition", id)
	}
	return nil
}

// MarkOrphansFailed promotes every Running row whose server_instance_id is
// NULL or differs from currentInstanceID to Failed. Run once at startup.
// Returns the number of rows promoted.
func (s *Store) MarkOrphansFailed(ctx context.Context, currentInstanceID string, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_processes
		SET status = ?, completed_at = ?
		WHERE status = ? AND (server_instance_id IS NULL OR server_instance_id <> ?)`,
		models.ProcessFailed, now, models.ProcessRunning, currentInstanceID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark orphaned processes failed: %w", err)
	}
	return res.RowsAffected()
}

// ListRunningByInstance returns processes still Running under instanceID,
// used at shutdown to stop every process this instance owns.
func (s *Store) ListRunningByInstance(ctx context.Context, instanceID string) ([]*models.ExecutionProcess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attempt_id, run_reason, executor_action, status, exit_code, pid,
		       before_head_commit, after_head_commit, dropped, server_instance_id,
		       created_at, completed_at
		FROM execution_processes WHERE status = ? AND server_instance_id = ?`,
		models.ProcessRunning, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list running processes: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionProcess
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DropAtAndAfter marks boundary and every process created at or after it
// (within the same attempt) as dropped. Dropped is monotonic: rows already
// dropped are left alone.
func (s *Store) DropAtAndAfter(ctx context.Context, attemptID, boundaryProcessID string) error {
	boundary, err := s.Get(ctx, boundaryProcessID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE execution_processes SET dropped = 1
		WHERE attempt_id = ? AND created_at >= ?`,
		attemptID, boundary.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("drop at and after: %w", err)
	}
	return nil
}

// SetRestoreBoundary drops only rows strictly later than boundary, never
// undropping anything.
func (s *Store) SetRestoreBoundary(ctx context.Context, attemptID, boundaryProcessID string) error {
	boundary, err := s.Get(ctx, boundaryProcessID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE execution_processes SET dropped = 1
		WHERE attempt_id = ? AND created_at > ?`,
		attemptID, boundary.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("set restore boundary: %w", err)
	}
	return nil
}

// UpsertExecutorSession records the agent-reported session id for a process.
func (s *Store) UpsertExecutorSession(ctx context.Context, processID, sessionID string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executor_sessions (process_id, session_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(process_id) DO UPDATE SET session_id = excluded.session_id`,
		processID, sessionID, now,
	)
	if err != nil {
		return fmt.Errorf("upsert executor session: %w", err)
	}
	return nil
}

// MostRecentSessionID returns the session id of the most recent non-dropped
// CodingAgent process for attemptID, or "" if none has reported one.
func (s *Store) MostRecentSessionID(ctx context.Context, attemptID string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx, `
		SELECT es.session_id
		FROM executor_sessions es
		JOIN execution_processes ep ON ep.id = es.process_id
		WHERE ep.attempt_id = ? AND ep.dropped = 0 AND ep.run_reason = ?
		ORDER BY ep.created_at DESC LIMIT 1`,
		attemptID, models.RunReasonCodingAgent,
	).Scan(&sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("most recent session id: %w", err)
	}
	return sessionID, nil
}

// FindSessionIDBeforeProcess returns the session id active immediately
// before boundary (the most recent non-dropped CodingAgent session created
// strictly before it), or "" if none exists. Supports retry-from-P.
func (s *Store) FindSessionIDBeforeProcess(ctx context.Context, attemptID, boundaryProcessID string) (string, error) {
	boundary, err := s.Get(ctx, boundaryProcessID)
	if err != nil {
		return "", err
	}
	var sessionID string
	err = s.db.QueryRowContext(ctx, `
		SELECT es.session_id
		FROM executor_sessions es
		JOIN execution_processes ep ON ep.id = es.process_id
		WHERE ep.attempt_id = ? AND ep.dropped = 0 AND ep.run_reason = ? AND ep.created_at < ?
		ORDER BY ep.created_at DESC LIMIT 1`,
		attemptID, models.RunReasonCodingAgent, boundary.CreatedAt,
	).Scan(&sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("find session id before process: %w", err)
	}
	return sessionID, nil
}
