package models

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusInReview    TaskStatus = "in_review"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

// Task is a unit of work within a project.
//
// ParentTaskID forms a DAG; cycles are forbidden by the writer, not by a
// foreign-key constraint. Hard-delete nullifies children's ParentTaskID
// before removing the row; archive is a soft delete that cascades to
// attempts' worktrees but leaves the row in place.
type Task struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Status TaskStatus `json:"status"`

	ParentTaskID *string `json:"parent_task_id,omitempty"`

	// Vars holds this task's own $VAR definitions, merged leaves-last with
	// its ancestors' when expanding its description or a follow-up prompt.
	Vars map[string]string `json:"vars,omitempty"`

	// SharedTaskID links this row to its Hive counterpart, if shared.
	SharedTaskID  *string `json:"shared_task_id,omitempty"`
	RemoteVersion int64   `json:"remote_version"`

	ArchivedAt *int64 `json:"archived_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// IsArchived reports whether the task has been soft-deleted.
func (t *Task) IsArchived() bool {
	return t.ArchivedAt != nil
}
