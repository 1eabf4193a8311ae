package models

// SharedTask is the Hive-side mirror of a Task.
//
// (SourceNodeID, SourceTaskID) is unique among non-deleted rows: this is the
// idempotency key for re-sync. Version increments on every successful
// mutation and backs optimistic concurrency (ErrConflict on mismatch).
type SharedTask struct {
	ID        string `json:"id"` // Hive-assigned UUID
	ProjectID string `json:"project_id"`

	OrganizationID string `json:"organization_id"`
	CreatorUserID  string `json:"creator_user_id"`
	AssigneeUserID *string `json:"assignee_user_id,omitempty"`

	// ExecutingNodeID is the node currently (or most recently) running an
	// attempt for this task. OwnerNodeID/OwnerName identify the node that
	// holds the project this task belongs to.
	ExecutingNodeID *string `json:"executing_node_id,omitempty"`
	OwnerNodeID     string  `json:"owner_node_id"`
	OwnerName       string  `json:"owner_name"`

	SourceNodeID *string `json:"source_node_id,omitempty"`
	SourceTaskID *string `json:"source_task_id,omitempty"`

	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`

	Version int64 `json:"version"`

	DeletedAt      *int64  `json:"deleted_at,omitempty"`
	DeletedByUserID *string `json:"deleted_by_user_id,omitempty"`
	ArchivedAt     *int64  `json:"archived_at,omitempty"`
	SharedAt       int64   `json:"shared_at"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// MaxTaskTextBytes is the combined title+description byte bound; writes
// exceeding it fail with apperr.PayloadTooLarge.
const MaxTaskTextBytes = 50 * 1024

// ActivityEventType tags one ActivityLog entry.
type ActivityEventType string

const (
	ActivityTaskCreated    ActivityEventType = "task.created"
	ActivityTaskUpdated    ActivityEventType = "task.updated"
	ActivityTaskReassigned ActivityEventType = "task.reassigned"
	ActivityTaskDeleted    ActivityEventType = "task.deleted"
)

// ActivityLog is an append-only per-project ordered log used for bulk fetch.
// Seq is strictly increasing, scoped to ProjectID, and assigned atomically
// with the task mutation it records.
type ActivityLog struct {
	ID        int64             `json:"id"`
	ProjectID string            `json:"project_id"`
	Seq       int64             `json:"seq"`
	EventType ActivityEventType `json:"event_type"`
	Payload   []byte            `json:"payload"`
	CreatedAt int64             `json:"created_at"`
}

// NodeStatus is the Hive's view of a registered node's reachability.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
)

// NodeInfo is the response shape of GET /projects/{id}/nodes.
type NodeInfo struct {
	NodeID     string     `json:"node_id"`
	NodeName   string     `json:"node_name"`
	NodeStatus NodeStatus `json:"node_status"`
	PublicURL  *string    `json:"node_public_url,omitempty"`
}
