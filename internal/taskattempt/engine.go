package taskattempt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/cspellhq/hivenode/internal/apperr"
	"github.com/cspellhq/hivenode/internal/gitops"
	"github.com/cspellhq/hivenode/internal/models"
	"github.com/cspellhq/hivenode/internal/normalizer"
	"github.com/cspellhq/hivenode/internal/process"
)

// HiveBroadcaster fires a best-effort, bounded-timeout notification to the
// Hive when a shared task changes locally. A nil Engine.Hive is valid: the
// broadcast step is then skipped entirely rather than attempted and ignored.
type HiveBroadcaster interface {
	BroadcastTaskUpdate(ctx context.Context, localTaskID string) error
}

// Engine is the task-attempt engine: it owns no state of its own beyond its
// collaborators, all of it lives in the Store, the git Manager, and the
// process Supervisor.
type Engine struct {
	Store      *Store
	Processes  *process.Store
	Supervisor *process.Supervisor
	Worktrees  *gitops.Manager
	Index      *normalizer.EntryIndexProvider
	Hive       HiveBroadcaster

	// RepoPath resolves a task's project to its local repo clone path.
	RepoPath func(ctx context.Context, projectID string) (string, error)

	// NewMessageStore builds the PatchSink for an attempt's conversation,
	// wired separately per attempt since each binds to its own attempt id.
	NewMessageStore func(attemptID string) normalizer.PatchSink
}

// StartAttemptOptions configures a fresh task-attempt.
type StartAttemptOptions struct {
	TaskID            string
	Executor          models.CodingAgent
	BaseBranch        string
	UseParentWorktree bool
	Variant           string
}

// StartAttempt implements the start sequence from worktree-strategy
// selection through spawning the initial coding-agent request.
func (e *Engine) StartAttempt(ctx context.Context, opts StartAttemptOptions) (*models.TaskAttempt, *models.ExecutionProcess, error) {
	task, err := e.Store.GetTask(ctx, opts.TaskID)
	if err != nil {
		return nil, nil, err
	}

	attempt := &models.TaskAttempt{
		ID:                shortuuid.New(),
		TaskID:            task.ID,
		Executor:          opts.Executor,
		TargetBranch:      opts.BaseBranch,
		UseParentWorktree: opts.UseParentWorktree,
		CreatedAt:         time.Now().Unix(),
		UpdatedAt:         time.Now().Unix(),
	}

	repoPath, err := e.RepoPath(ctx, task.ProjectID)
	if err != nil {
		return nil, nil, err
	}

	var worktreePath string
	if opts.UseParentWorktree {
		if task.ParentTaskID == nil {
			return nil, nil, &apperr.Precondition{Subcode: "no_parent_task", Reason: "use_parent_worktree requires a parent task"}
		}
		parentAttempt, err := e.Store.MostRecentAttempt(ctx, *task.ParentTaskID)
		if err != nil {
			return nil, nil, err
		}
		if parentAttempt == nil || !parentAttempt.HasLiveWorktree() {
			return nil, nil, &apperr.Precondition{Subcode: "parent_worktree_unavailable", Reason: "parent attempt has no living worktree to adopt"}
		}
		attempt.ContainerRef = parentAttempt.ContainerRef
		attempt.Branch = parentAttempt.Branch
		worktreePath = *parentAttempt.ContainerRef
	} else {
		attempt.Branch = gitops.BranchName(task.Title, attempt.ID)
		path, err := e.Worktrees.CreateWorktree(repoPath, attempt.ID, attempt.Branch, opts.BaseBranch)
		if err != nil {
			return nil, nil, err
		}
		worktreePath = path
		attempt.ContainerRef = &worktreePath
	}

	if err := e.Store.InsertAttempt(ctx, attempt); err != nil {
		return nil, nil, err
	}

	beforeHead, err := gitops.HeadCommit(worktreePath)
	if err != nil {
		return nil, nil, fmt.Errorf("capture before-head commit: %w", err)
	}

	vars, err := e.resolveVars(ctx, task)
	if err != nil {
		return nil, nil, err
	}
	prompt, undefined := ExpandVars(task.Title+"\n\n"+task.Description, vars)
	if len(undefined) > 0 {
		slog.Warn("[TASKATTEMPT] task prompt references undefined variables", "task_id", task.ID, "undefined", undefined)
	}

	proc, err := e.spawnCodingAgent(ctx, attempt, worktreePath, executorAction{
		Agent:   opts.Executor,
		Prompt:  prompt,
		Variant: opts.Variant,
	}, &beforeHead)
	if err != nil {
		return nil, nil, err
	}
	return attempt, proc, nil
}

// resolveVars builds the leaves-last variable map for a task: ParentChain
// returns ancestors nearest-first, so the chain is reversed to root-first
// before the child's own Vars is appended last, giving it the final say per
// MergeVarChain's child-overrides-ancestor contract.
func (e *Engine) resolveVars(ctx context.Context, task *models.Task) (map[string]string, error) {
	ancestors, err := e.Store.ParentChain(ctx, task)
	if err != nil {
		return nil, err
	}
	chain := make([]map[string]string, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		chain = append(chain, ancestors[i].Vars)
	}
	chain = append(chain, task.Vars)
	return MergeVarChain(chain), nil
}

func (e *Engine) spawnCodingAgent(ctx context.Context, attempt *models.TaskAttempt, worktreePath string, action executorAction, beforeHead *string) (*models.ExecutionProcess, error) {
	command, args := buildCommand(action)
	if command == "" {
		return nil, &apperr.Precondition{Subcode: "unsupported_executor", Reason: fmt.Sprintf("no command builder for agent %q", action.Agent)}
	}

	sink := e.NewMessageStore(attempt.ID)
	norm := normalizer.New(action.Agent, worktreePath, e.Index)
	driver := normalizer.NewDriver(norm, sink, e.Index)

	onLine := func(outputType, line string) {
		switch outputType {
		case "stdout":
			driver.ProcessStdoutLine(line)
		case "stderr":
			driver.ProcessStderrLine(line)
		}
	}

	proc, err := e.Supervisor.Spawn(ctx, process.Spec{
		AttemptID:      attempt.ID,
		RunReason:      models.RunReasonCodingAgent,
		ExecutorAction: action.marshal(),
		WorkDir:        worktreePath,
		Command:        command,
		Args:           args,
		OnLine:         onLine,
	}, beforeHead, func(exitErr error) (*string, error) {
		driver.Flush()
		head, err := gitops.HeadCommit(worktreePath)
		if err != nil {
			return nil, err
		}
		return &head, nil
	})
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// FollowUp sends a follow-up request on an existing attempt, resuming the
// most recent coding-agent session when the executor supports it.
func (e *Engine) FollowUp(ctx context.Context, attemptID, prompt string, variant string) (*models.ExecutionProcess, error) {
	attempt, err := e.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.HasLiveWorktree() {
		return nil, &apperr.Precondition{Subcode: "worktree_unavailable", Reason: "attempt has no living worktree"}
	}
	worktreePath := *attempt.ContainerRef

	task, err := e.Store.GetTask(ctx, attempt.TaskID)
	if err != nil {
		return nil, err
	}
	vars, err := e.resolveVars(ctx, task)
	if err != nil {
		return nil, err
	}
	expanded, undefined := ExpandVars(prompt, vars)
	if len(undefined) > 0 {
		slog.Warn("[TASKATTEMPT] follow-up prompt references undefined variables", "attempt_id", attemptID, "undefined", undefined)
	}

	sessionID := ""
	if attempt.Executor.Capabilities().SupportsSessionResume {
		sessionID, err = e.Processes.MostRecentSessionID(ctx, attemptID)
		if err != nil {
			slog.Warn("[TASKATTEMPT] failed to look up session id, falling back to fresh request", "attempt_id", attemptID, "error", err)
			sessionID = ""
		}
	}

	beforeHead, err := gitops.HeadCommit(worktreePath)
	if err != nil {
		return nil, fmt.Errorf("capture before-head commit: %w", err)
	}

	return e.spawnCodingAgent(ctx, attempt, worktreePath, executorAction{
		Agent:     attempt.Executor,
		Prompt:    expanded,
		SessionID: sessionID,
		Variant:   variant,
		FollowUp:  true,
	}, &beforeHead)
}

// Stop stops every running process on an attempt.
func (e *Engine) Stop(ctx context.Context, attemptID string, grace time.Duration) error {
	procs, err := e.Processes.ListByAttempt(ctx, attemptID, false)
	if err != nil {
		return err
	}
	for _, p := range procs {
		if p.Status != models.ProcessRunning {
			continue
		}
		if err := e.Supervisor.Stop(p.ID, grace); err != nil {
			return fmt.Errorf("stop process %s: %w", p.ID, err)
		}
	}
	return nil
}

// RetryFromOptions configures a retry-from-process request.
type RetryFromOptions struct {
	AttemptID        string
	ProcessID        string
	Prompt           string
	PerformGitReset  bool
	ForceWhenDirty   bool
	IsDirty          bool
}

// RetryFrom implements the retry-from-P sequence: reconcile the worktree to
// P's before-head commit, stop running processes, drop P and everything
// after it, then proceed as a follow-up.
func (e *Engine) RetryFrom(ctx context.Context, opts RetryFromOptions) (*models.ExecutionProcess, error) {
	proc, err := e.Processes.Get(ctx, opts.ProcessID)
	if err != nil {
		return nil, err
	}
	if proc.AttemptID != opts.AttemptID {
		return nil, &apperr.Precondition{Subcode: "process_attempt_mismatch", Reason: "process does not belong to this attempt"}
	}
	attempt, err := e.Store.GetAttempt(ctx, opts.AttemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.HasLiveWorktree() {
		return nil, &apperr.Precondition{Subcode: "worktree_unavailable", Reason: "attempt has no living worktree"}
	}
	worktreePath := *attempt.ContainerRef

	targetBeforeOID := proc.BeforeHeadCommit
	if targetBeforeOID == nil {
		targetBeforeOID, err = e.prevAfterHeadCommit(ctx, opts.AttemptID, proc)
		if err != nil {
			return nil, err
		}
	}
	if targetBeforeOID != nil {
		if err := e.Worktrees.ReconcileWorktreeToCommit(worktreePath, *targetBeforeOID, gitops.ReconcileOptions{
			DoReset:        opts.PerformGitReset,
			ForceWhenDirty: opts.ForceWhenDirty,
			IsDirty:        opts.IsDirty,
			ThenClean:      opts.PerformGitReset,
		}); err != nil {
			return nil, err
		}
	}

	if err := e.Stop(ctx, opts.AttemptID, 5*time.Second); err != nil {
		return nil, err
	}

	if err := e.Processes.DropAtAndAfter(ctx, opts.AttemptID, opts.ProcessID); err != nil {
		return nil, err
	}

	prompt := opts.Prompt
	if prompt == "" {
		task, err := e.Store.GetTask(ctx, attempt.TaskID)
		if err != nil {
			return nil, err
		}
		prompt = task.Title + "\n\n" + task.Description
	}
	return e.FollowUp(ctx, opts.AttemptID, prompt, "")
}

// prevAfterHeadCommit finds the after_head_commit of the non-dropped
// CodingAgent process immediately preceding boundary, used when boundary
// itself never captured a before_head_commit (e.g. it crashed before the
// head could be read).
func (e *Engine) prevAfterHeadCommit(ctx context.Context, attemptID string, boundary *models.ExecutionProcess) (*string, error) {
	procs, err := e.Processes.ListByAttempt(ctx, attemptID, false)
	if err != nil {
		return nil, err
	}
	var best *models.ExecutionProcess
	for _, p := range procs {
		if p.RunReason != models.RunReasonCodingAgent || p.CreatedAt >= boundary.CreatedAt {
			continue
		}
		if best == nil || p.CreatedAt > best.CreatedAt {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.AfterHeadCommit, nil
}

// Merge constructs the merge commit message, performs the merge against the
// attempt's target branch, records a direct-merge row, moves the task to
// Done, and stops any dev-server processes still attached to the attempt.
func (e *Engine) Merge(ctx context.Context, attemptID string) (*models.Merge, error) {
	attempt, err := e.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	task, err := e.Store.GetTask(ctx, attempt.TaskID)
	if err != nil {
		return nil, err
	}
	repoPath, err := e.RepoPath(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}

	message := mergeMessage(task)
	oid, err := e.Worktrees.MergeChanges(repoPath, attempt.Branch, attempt.TargetBranch, message)
	if err != nil {
		return nil, err
	}

	merge := &models.Merge{
		ID:             shortuuid.New(),
		AttemptID:      attemptID,
		Kind:           models.MergeDirect,
		MergeCommitOID: &oid,
		CreatedAt:      time.Now().Unix(),
	}
	if err := e.Store.InsertMerge(ctx, merge); err != nil {
		return nil, err
	}
	if err := e.Store.UpdateTaskStatus(ctx, task.ID, models.StatusDone, time.Now().Unix()); err != nil {
		return nil, err
	}

	if err := e.stopDevServers(ctx, attemptID); err != nil {
		slog.Warn("[TASKATTEMPT] failed to stop dev servers after merge", "attempt_id", attemptID, "error", err)
	}

	if task.SharedTaskID != nil && e.Hive != nil {
		go func() {
			bctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.Hive.BroadcastTaskUpdate(bctx, task.ID); err != nil {
				slog.Warn("[TASKATTEMPT] hive broadcast failed after merge", "task_id", task.ID, "error", err)
			}
		}()
	}

	return merge, nil
}

func mergeMessage(task *models.Task) string {
	id := task.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s (vibe-kanban %s)\n\n%s", task.Title, id, task.Description)
}

func (e *Engine) stopDevServers(ctx context.Context, attemptID string) error {
	procs, err := e.Processes.ListByAttempt(ctx, attemptID, false)
	if err != nil {
		return err
	}
	for _, p := range procs {
		if p.RunReason != models.RunReasonDevServer || p.Status != models.ProcessRunning {
			continue
		}
		if err := e.Supervisor.Stop(p.ID, 2*time.Second); err != nil {
			return err
		}
	}
	return nil
}

// Rebase rebases the attempt's branch onto target's current tip, resolving
// the rebase's own "old base" as the target's merge-base with the branch.
func (e *Engine) Rebase(ctx context.Context, attemptID, newTargetBranch string) error {
	attempt, err := e.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if !attempt.HasLiveWorktree() {
		return &apperr.Precondition{Subcode: "worktree_unavailable", Reason: "attempt has no living worktree"}
	}
	target := newTargetBranch
	if target == "" {
		target = attempt.TargetBranch
	}
	return e.Worktrees.RebaseBranch(*attempt.ContainerRef, target, attempt.TargetBranch, attempt.Branch)
}

// ChangeTargetBranch updates the branch an attempt merges/rebases against.
func (e *Engine) ChangeTargetBranch(ctx context.Context, attemptID, targetBranch string) error {
	return e.Store.SetTargetBranch(ctx, attemptID, targetBranch, time.Now().Unix())
}

// RenameBranch renames an attempt's branch, refusing when the new name
// already exists, a rebase is in progress, or the attempt has an open PR.
func (e *Engine) RenameBranch(ctx context.Context, attemptID, newBranch string) error {
	attempt, err := e.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if !attempt.HasLiveWorktree() {
		return &apperr.Precondition{Subcode: "worktree_unavailable", Reason: "attempt has no living worktree"}
	}
	worktreePath := *attempt.ContainerRef

	if gitops.BranchExists(worktreePath, newBranch) {
		return &apperr.Precondition{Subcode: "branch_exists", Reason: fmt.Sprintf("branch %q already exists", newBranch)}
	}
	if inProgress, _ := gitops.RebaseInProgress(worktreePath); inProgress {
		return &apperr.Precondition{Subcode: "rebase_in_progress", Reason: "cannot rename branch during an in-progress rebase"}
	}
	merge, err := e.Store.LatestMerge(ctx, attemptID)
	if err != nil {
		return err
	}
	if merge != nil && merge.Kind == models.MergePR && merge.PRStatus != nil && *merge.PRStatus == models.PRStatusOpen {
		return &apperr.Precondition{Subcode: "open_pr", Reason: "cannot rename branch while a pull request is open"}
	}

	if err := e.Worktrees.RenameBranch(worktreePath, newBranch); err != nil {
		return err
	}
	return e.Store.RenameBranch(ctx, attemptID, newBranch, time.Now().Unix())
}

// AttachPR records an externally-created PR against the attempt's most
// recent merge row, or creates a fresh PR-kind merge row if none exists yet.
func (e *Engine) AttachPR(ctx context.Context, attemptID string, prNumber int64, prURL string) error {
	merge, err := e.Store.LatestMerge(ctx, attemptID)
	if err != nil {
		return err
	}
	status := models.PRStatusOpen
	if merge != nil && merge.Kind == models.MergePR {
		return e.Store.UpdateMergePR(ctx, merge.ID, status)
	}
	fresh := &models.Merge{
		ID:        shortuuid.New(),
		AttemptID: attemptID,
		Kind:      models.MergePR,
		PRNumber:  &prNumber,
		PRURL:     &prURL,
		PRStatus:  &status,
		CreatedAt: time.Now().Unix(),
	}
	return e.Store.InsertMerge(ctx, fresh)
}

// CreatePR pushes the attempt's branch; it records no merge row.
// Actual PR creation against a forge API is out of scope here; callers that
// integrate a forge call AttachPR with the result.
func (e *Engine) CreatePR(ctx context.Context, attemptID string, force bool) error {
	attempt, err := e.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if !attempt.HasLiveWorktree() {
		return &apperr.Precondition{Subcode: "worktree_unavailable", Reason: "attempt has no living worktree"}
	}
	return e.Worktrees.PushToGitHub(*attempt.ContainerRef, attempt.Branch, force)
}

// BranchStatus aggregates the combined status header for an attempt: ahead/
// behind vs target, dirty state, rebase/conflict state, and the latest merge.
type BranchStatus struct {
	*gitops.BranchStatus
	LatestMerge *models.Merge
}

// StreamDiffStats is the stats-only shape of a worktree diff, used when the
// caller does not need full hunks.
type StreamDiffStats struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

// StreamDiff returns the attempt's worktree diff against its target branch.
// When statsOnly is true the unified diff text is omitted, returning only
// the file/insertion/deletion counts for callers rendering a summary badge.
func (e *Engine) StreamDiff(ctx context.Context, attemptID string, statsOnly bool) (string, *StreamDiffStats, error) {
	attempt, err := e.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return "", nil, err
	}
	if !attempt.HasLiveWorktree() {
		return "", nil, &apperr.Precondition{Subcode: "worktree_unavailable", Reason: "attempt has no living worktree"}
	}
	diff, filesChanged, insertions, deletions, err := gitops.DiffStats(*attempt.ContainerRef, attempt.TargetBranch)
	if err != nil {
		return "", nil, err
	}
	stats := &StreamDiffStats{FilesChanged: filesChanged, Insertions: insertions, Deletions: deletions}
	if statsOnly {
		return "", stats, nil
	}
	return diff, stats, nil
}

// GetBranchStatus runs the single synchronous branch-status query.
func (e *Engine) GetBranchStatus(ctx context.Context, attemptID string) (*BranchStatus, error) {
	attempt, err := e.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.HasLiveWorktree() {
		return nil, &apperr.Precondition{Subcode: "worktree_unavailable", Reason: "attempt has no living worktree"}
	}
	status, err := gitops.GetBranchStatus(*attempt.ContainerRef, attempt.Branch, attempt.TargetBranch)
	if err != nil {
		return nil, err
	}
	merge, err := e.Store.LatestMerge(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return &BranchStatus{BranchStatus: status, LatestMerge: merge}, nil
}
