package models

// RunReason identifies why an ExecutionProcess was spawned.
type RunReason string

const (
	RunReasonSetupScript   RunReason = "setup_script"
	RunReasonCleanupScript RunReason = "cleanup_script"
	RunReasonCodingAgent   RunReason = "coding_agent"
	RunReasonDevServer     RunReason = "dev_server"
)

// ProcessStatus is the state-machine value of an ExecutionProcess.
// Legal transitions: Running -> {Completed, Failed, Killed}. No transition
// leaves a terminal state.
type ProcessStatus string

const (
	ProcessRunning   ProcessStatus = "running"
	ProcessCompleted ProcessStatus = "completed"
	ProcessFailed    ProcessStatus = "failed"
	ProcessKilled    ProcessStatus = "killed"
)

// IsTerminal reports whether s is a terminal status.
func (s ProcessStatus) IsTerminal() bool {
	return s == ProcessCompleted || s == ProcessFailed || s == ProcessKilled
}

// ExecutionProcess is one child process run inside an attempt's worktree.
//
// BeforeHeadCommit is captured at spawn, AfterHeadCommit at termination.
// Dropped is monotonic: once true it is never reset to false. A process row
// whose Status is Running at startup and whose ServerInstanceID does not
// match the current instance is fatal-promoted to Failed (orphan reaping).
type ExecutionProcess struct {
	ID         string    `json:"id"`
	AttemptID  string    `json:"attempt_id"`
	RunReason  RunReason `json:"run_reason"`

	// ExecutorAction is a tagged-JSON description of what was run (command,
	// args, env, prompt for coding-agent runs).
	ExecutorAction []byte `json:"executor_action"`

	Status   ProcessStatus `json:"status"`
	ExitCode *int          `json:"exit_code,omitempty"`
	PID      *int          `json:"pid,omitempty"`

	BeforeHeadCommit *string `json:"before_head_commit,omitempty"`
	AfterHeadCommit  *string `json:"after_head_commit,omitempty"`

	Dropped bool `json:"dropped"`

	ServerInstanceID string `json:"server_instance_id"`

	CreatedAt   int64  `json:"created_at"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
}

// ExecutorSession threads an agent-reported opaque session id to its
// ExecutionProcess, keyed by process id, enabling follow-up resumption.
type ExecutorSession struct {
	ProcessID string `json:"process_id"`
	SessionID string `json:"session_id"`
	CreatedAt int64  `json:"created_at"`
}

// TerminalSession is an interactive PTY opened on a worktree path. ID is
// deterministic (vk-<sha256(path)[:8]>) so a second open on the same path
// reattaches instead of spawning a duplicate shell.
type TerminalSession struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	Backend   string  `json:"backend"`
	CreatedAt int64   `json:"created_at"`
	ClosedAt  *int64  `json:"closed_at,omitempty"`
}
