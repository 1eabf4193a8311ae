package models

// EntryKind tags the variant of a NormalizedEntry.
type EntryKind string

const (
	EntryUserMessage      EntryKind = "user_message"
	EntryAssistantMessage EntryKind = "assistant_message"
	EntrySystemMessage    EntryKind = "system_message"
	EntryThinking         EntryKind = "thinking"
	EntryToolUse          EntryKind = "tool_use"
	EntryErrorMessage     EntryKind = "error_message"
	EntryUserFeedback     EntryKind = "user_feedback"
)

// ToolStatus is the lifecycle of a ToolUse entry.
type ToolStatus string

const (
	ToolCreated ToolStatus = "created"
	ToolSuccess ToolStatus = "success"
	ToolFailed  ToolStatus = "failed"
)

// ActionKind tags the variant of a ToolUse's Action.
type ActionKind string

const (
	ActionFileRead         ActionKind = "file_read"
	ActionFileEdit         ActionKind = "file_edit"
	ActionCommandRun       ActionKind = "command_run"
	ActionSearch           ActionKind = "search"
	ActionWebFetch         ActionKind = "web_fetch"
	ActionTodoManagement   ActionKind = "todo_management"
	ActionTool             ActionKind = "tool"
)

// FileChangeKind tags the variant of a FileChange.
type FileChangeKind string

const (
	FileChangeEdit   FileChangeKind = "edit"
	FileChangeWrite  FileChangeKind = "write"
	FileChangeDelete FileChangeKind = "delete"
	FileChangeRename FileChangeKind = "rename"
)

// FileChange describes one file mutation observed from a patch/apply_patch
// tool result. Edit carries a unified diff; Write/Delete/Rename carry the
// relevant paths/content directly.
type FileChange struct {
	Kind FileChangeKind `json:"kind"`

	Path    string  `json:"path"`
	NewPath *string `json:"new_path,omitempty"` // Rename only

	UnifiedDiff    *string `json:"unified_diff,omitempty"`
	HasLineNumbers bool    `json:"has_line_numbers,omitempty"`
	Content        *string `json:"content,omitempty"` // Write full-body
}

// Action is the structured payload of a ToolUse entry.
type Action struct {
	Kind ActionKind `json:"kind"`

	Path    string       `json:"path,omitempty"`    // FileRead
	Changes []FileChange `json:"changes,omitempty"` // FileEdit

	Command string  `json:"command,omitempty"` // CommandRun
	Result  *string `json:"result,omitempty"`  // CommandRun, Tool

	Query string `json:"query,omitempty"` // Search
	URL   string `json:"url,omitempty"`   // WebFetch

	Todos     []TodoItem `json:"todos,omitempty"`     // TodoManagement
	Operation string     `json:"operation,omitempty"` // TodoManagement

	Name string `json:"name,omitempty"` // Tool
	Args string `json:"args,omitempty"` // Tool, raw JSON
}

// TodoItem is one entry in a TodoManagement action's todo list.
type TodoItem struct {
	Content  string `json:"content"`
	Status   string `json:"status"` // pending | in_progress | completed
	ActiveForm string `json:"active_form,omitempty"`
}

// NormalizedEntry is one atom of a task attempt's conversation, addressable
// by a monotonic index assigned by an EntryIndexProvider.
type NormalizedEntry struct {
	Kind EntryKind `json:"kind"`

	Content string `json:"content,omitempty"` // User/Assistant/System/Thinking text

	ToolName string     `json:"tool_name,omitempty"`
	Action   *Action     `json:"action,omitempty"`
	Status   ToolStatus `json:"status,omitempty"`

	ErrorKind string `json:"error_kind,omitempty"` // ErrorMessage

	DeniedTool string `json:"denied_tool,omitempty"` // UserFeedback

	Timestamp int64 `json:"timestamp"`
}

// PatchOp is the shape of one JSON-patch operation against the indexed
// conversation. Patches are self-describing: they carry the index, so no
// back-references into prior state are required.
type PatchOp string

const (
	PatchAdd     PatchOp = "add"
	PatchReplace PatchOp = "replace"
	PatchRemove  PatchOp = "remove"
)

// JSONPatch targets one index of one attempt's conversation.
type JSONPatch struct {
	Op    PatchOp          `json:"op"`
	Index int               `json:"index"`
	Entry *NormalizedEntry `json:"entry,omitempty"` // nil for Remove
}
