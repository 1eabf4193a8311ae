package sharedtask

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cspellhq/hivenode/internal/apperr"
	"github.com/cspellhq/hivenode/internal/hiveclient"
	"github.com/cspellhq/hivenode/internal/models"
	"github.com/cspellhq/hivenode/internal/syncproto"
)

// broadcastTimeout bounds the fire-and-forget Hive update a merge triggers
// (§4.4: "asynchronously broadcast an update to the Hive (fire-and-forget,
// bounded timeout)").
const broadcastTimeout = 5 * time.Second

// TaskReader is the minimal Task/ParentChain access the Syncer needs; it
// intentionally does not import internal/taskattempt to avoid a package
// cycle (the engine depends on Syncer through the HiveBroadcaster
// interface it declares itself).
type TaskReader interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
}

// Syncer drives the node side of shared-task federation: sharing/updating
// tasks, broadcasting post-merge updates, and applying inbound Hive events
// to the local mirror.
type Syncer struct {
	Client   *hiveclient.Client
	Store    *Store
	Tasks    TaskReader
	NodeID   string
	NodeName string
}

// ShareTask creates a Hive shared task for a local task that has none yet,
// or refreshes the mirror if it is already shared. source_task_id/
// source_node_id are always sent so the Hive's idempotent upsert can
// dedupe a retried share.
func (s *Syncer) ShareTask(ctx context.Context, task *models.Task) (*models.SharedTask, error) {
	if got := len(task.Title) + len(task.Description); got > models.MaxTaskTextBytes {
		return nil, fmt.Errorf("share task: %w", &apperr.PayloadTooLarge{Limit: models.MaxTaskTextBytes, Got: got})
	}

	existing, err := s.Store.GetByLocalTaskID(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	sourceTaskID := task.ID
	sourceNodeID := s.NodeID
	resp, err := s.Client.CreateSharedTask(ctx, &hiveclient.CreateSharedTaskRequest{
		ProjectID:    task.ProjectID,
		Title:        task.Title,
		Description:  task.Description,
		SourceTaskID: &sourceTaskID,
		SourceNodeID: &sourceNodeID,
	})
	if err != nil {
		return nil, fmt.Errorf("create shared task: %w", err)
	}

	mirror := &Mirror{
		LocalTaskID:   task.ID,
		SharedTaskID:  resp.Task.ID,
		RemoteVersion: resp.Task.Version,
		UpdatedAt:     time.Now().Unix(),
	}
	if existing != nil {
		mirror.AssigneeName = existing.AssigneeName
		mirror.AssigneeUsername = existing.AssigneeUsername
	}
	if err := s.Store.Upsert(ctx, mirror); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// UpdateSharedTask pushes a local edit to an already-shared task. On a 404
// from the Hive (stale shared_task_id, §7) it re-shares as a new task
// rather than failing, per the scenario-4 re-sync contract.
func (s *Syncer) UpdateSharedTask(ctx context.Context, task *models.Task) error {
	mirror, err := s.Store.GetByLocalTaskID(ctx, task.ID)
	if err != nil {
		return err
	}
	if mirror == nil {
		_, err := s.ShareTask(ctx, task)
		return err
	}

	title, desc, status := task.Title, task.Description, string(task.Status)
	resp, err := s.Client.PatchSharedTask(ctx, mirror.SharedTaskID, &hiveclient.PatchSharedTaskRequest{
		Title: &title, Description: &desc, Status: &status,
	})
	if err == hiveclient.ErrNotFound {
		slog.Warn("sharedtask: stale shared_task_id, re-sharing", "local_task_id", task.ID)
		_, err := s.ShareTask(ctx, task)
		return err
	}
	if err != nil {
		return fmt.Errorf("update shared task: %w", err)
	}

	mirror.RemoteVersion = resp.Task.Version
	mirror.UpdatedAt = time.Now().Unix()
	return s.Store.Upsert(ctx, mirror)
}

// DeleteSharedTask unshares a task. Disconnected nodes are expected to
// clear the mirror row locally instead of calling this (§7).
func (s *Syncer) DeleteSharedTask(ctx context.Context, localTaskID string) error {
	mirror, err := s.Store.GetByLocalTaskID(ctx, localTaskID)
	if err != nil {
		return err
	}
	if mirror == nil {
		return nil
	}
	if err := s.Client.DeleteSharedTask(ctx, mirror.SharedTaskID); err != nil {
		return fmt.Errorf("delete shared task: %w", err)
	}
	return s.Store.ClearSharedTaskID(ctx, localTaskID)
}

// BroadcastTaskUpdate implements internal/taskattempt.HiveBroadcaster: a
// bounded, fire-and-forget push of the current task state after a merge.
// Failure is logged, never propagated — the local mutation already
// committed (§7 "partial-failure on broadcast").
func (s *Syncer) BroadcastTaskUpdate(ctx context.Context, localTaskID string) error {
	task, err := s.Tasks.GetTask(ctx, localTaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}

	bctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	if err := s.UpdateSharedTask(bctx, task); err != nil {
		slog.Warn("sharedtask: broadcast to hive failed", "local_task_id", localTaskID, "error", err)
		return nil
	}
	return nil
}

// HandleInbound applies a Hive->node sync envelope to the local mirror. It
// is passed as the syncproto.Handler when dialing the Hive connection.
func (s *Syncer) HandleInbound(ctx context.Context, env *syncproto.Envelope) (any, error) {
	switch env.Method {
	case syncproto.MethodTaskUpsert:
		var p syncproto.TaskUpsertPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return nil, s.applyTaskUpsert(ctx, &p)

	case syncproto.MethodTaskDelete:
		var p syncproto.TaskDeletePayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		mirror, err := s.Store.GetBySharedTaskID(ctx, p.SharedTaskID)
		if err != nil || mirror == nil {
			return nil, err
		}
		return nil, s.Store.ClearSharedTaskID(ctx, mirror.LocalTaskID)

	case syncproto.MethodProjectMembershipChange, syncproto.MethodNodeStatusChange:
		// Acknowledged without local effect: cached_node_projects, which the
		// proxy router reads, is not updated from these events.
		return nil, nil

	default:
		return nil, fmt.Errorf("sharedtask: unhandled inbound method %q", env.Method)
	}
}

func (s *Syncer) applyTaskUpsert(ctx context.Context, p *syncproto.TaskUpsertPayload) error {
	existing, err := s.Store.GetBySharedTaskID(ctx, p.SharedTaskID)
	if err != nil {
		return err
	}

	localTaskID := p.SourceTaskID
	if existing != nil {
		localTaskID = existing.LocalTaskID
	}

	mirror := &Mirror{
		LocalTaskID:   localTaskID,
		SharedTaskID:  p.SharedTaskID,
		RemoteVersion: p.Version,
		UpdatedAt:     time.Now().Unix(),
	}
	if p.AssigneeName != "" {
		name := p.AssigneeName
		mirror.AssigneeName = &name
	}
	return s.Store.Upsert(ctx, mirror)
}
