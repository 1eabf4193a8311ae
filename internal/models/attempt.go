package models

// CodingAgent identifies which external coding-agent CLI an attempt uses.
// Dispatch over this tag happens through switch statements (Capabilities
// below, normalizer.New, and internal/taskattempt's buildCommand), never
// through subclassing.
type CodingAgent string

const (
	AgentClaudeCode CodingAgent = "claude_code"
	AgentCodex      CodingAgent = "codex"
	AgentDroid      CodingAgent = "droid"
	AgentGemini     CodingAgent = "gemini"
	AgentCursor     CodingAgent = "cursor"
	AgentOpenCode   CodingAgent = "opencode"
)

// AgentCapabilities is the shared capability set every CodingAgent declares.
type AgentCapabilities struct {
	NoContext           bool
	SupportsSessionResume bool
}

// Capabilities returns the capability set for a given agent tag. Unknown
// tags get the conservative default (no session resume).
func (a CodingAgent) Capabilities() AgentCapabilities {
	switch a {
	case AgentClaudeCode, AgentCodex:
		return AgentCapabilities{SupportsSessionResume: true}
	case AgentDroid:
		return AgentCapabilities{SupportsSessionResume: true}
	case AgentGemini, AgentCursor, AgentOpenCode:
		return AgentCapabilities{NoContext: true}
	default:
		return AgentCapabilities{}
	}
}

// TaskAttempt is one execution of a coding agent against one task.
//
// At most one non-deleted worktree exists per attempt. When started with
// UseParentWorktree, ContainerRef is adopted from the parent task's latest
// attempt and no new worktree is created for this row.
type TaskAttempt struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`

	Executor CodingAgent `json:"executor"`

	Branch       string `json:"branch"`
	TargetBranch string `json:"target_branch"`

	ContainerRef    *string `json:"container_ref,omitempty"`
	WorktreeDeleted bool    `json:"worktree_deleted"`

	UseParentWorktree bool `json:"use_parent_worktree"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// HasLiveWorktree reports whether the attempt currently owns a usable
// worktree (its own, or an adopted parent's).
func (a *TaskAttempt) HasLiveWorktree() bool {
	return a.ContainerRef != nil && !a.WorktreeDeleted
}
