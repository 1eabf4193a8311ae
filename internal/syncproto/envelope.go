// Package syncproto defines the wire envelopes exchanged between a node and
// the Hive over the websocket sync channel (spec §6). Every message is a
// single JSON object tagged by Method, mirroring the agent package's
// StreamEvent tagging (a flat struct with an optional-field-per-method
// shape) rather than a Go type switch over an interface — the same idiom,
// generalized from one direction (agent output) to two (node<->Hive).
package syncproto

import "encoding/json"

// Method tags one Envelope. Node->Hive methods and Hive->node methods share
// the same envelope shape but are never sent in the wrong direction.
type Method string

const (
	// Node -> Hive
	MethodLinkProject          Method = "link_project"
	MethodUnlinkProject        Method = "unlink_project"
	MethodUpsertTask           Method = "upsert_task"
	MethodAssignTask           Method = "assign_task"
	MethodDeleteTask           Method = "delete_task"
	MethodExecutionProcessBatch Method = "execution_process_batch"
	MethodLogEntryBatch        Method = "log_entry_batch"
	MethodNodeHeartbeat        Method = "node_heartbeat"

	// Hive -> node
	MethodTaskUpsert             Method = "task_upsert"
	MethodTaskDelete             Method = "task_delete"
	MethodProjectMembershipChange Method = "project_membership_change"
	MethodNodeStatusChange       Method = "node_status_change"

	// Either direction, correlates a prior message by ID.
	MethodAck   Method = "ack"
	MethodError Method = "error"
)

// Envelope is the single wire shape for every sync message. ID correlates a
// response (ack/error) to the message that caused it; Payload carries the
// method-specific body, kept as raw JSON so the codec never needs a type
// switch to decode — callers unmarshal Payload into the struct matching
// Method.
type Envelope struct {
	ID     string          `json:"id"`
	Method Method          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals method+payload into an Envelope carrying the given id.
func Encode(id string, method Method, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{ID: id, Method: method, Payload: raw}, nil
}

// Decode unmarshals e.Payload into dst.
func (e *Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// LinkProjectPayload links a Hive project to a local repo (node->Hive).
type LinkProjectPayload struct {
	RemoteProjectID string `json:"remote_project_id"`
	LocalProjectID  string `json:"local_project_id"`
	GitRepoPath     string `json:"git_repo_path"`
	DefaultBranch   string `json:"default_branch"`
}

// UnlinkProjectPayload unlinks a previously-linked Hive project.
type UnlinkProjectPayload struct {
	RemoteProjectID string `json:"remote_project_id"`
}

// UpsertTaskPayload shares a local task to the Hive, or pushes an update to
// one already shared. SharedTaskID is empty on first share.
type UpsertTaskPayload struct {
	SharedTaskID   string  `json:"shared_task_id,omitempty"`
	SourceTaskID   string  `json:"source_task_id"`
	ProjectID      string  `json:"project_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Status         string  `json:"status"`
	AssigneeUserID *string `json:"assignee_user_id,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// AssignTaskPayload reassigns a shared task.
type AssignTaskPayload struct {
	SharedTaskID   string `json:"shared_task_id"`
	AssigneeUserID string `json:"assignee_user_id"`
}

// DeleteTaskPayload soft-deletes a shared task.
type DeleteTaskPayload struct {
	SharedTaskID string `json:"shared_task_id"`
}

// ExecutionProcessBatchPayload streams process lifecycle rows for a task
// attempt, so the Hive (and any node proxying through it) can reflect
// attempt state without polling.
type ExecutionProcessBatchPayload struct {
	SharedTaskID string            `json:"shared_task_id"`
	Processes    []json.RawMessage `json:"processes"`
}

// LogEntryBatchPayload streams log-entry rows for visibility on a task
// being proxied from another node.
type LogEntryBatchPayload struct {
	ExecutionProcessID string            `json:"execution_process_id"`
	Entries            []json.RawMessage `json:"entries"`
}

// NodeHeartbeatPayload is sent periodically by a node to keep its Hive
// NodeStatus at Online.
type NodeHeartbeatPayload struct {
	NodeID    string `json:"node_id"`
	PublicURL string `json:"public_url,omitempty"`
}

// TaskUpsertPayload is Hive->node: a shared task was created or changed.
type TaskUpsertPayload struct {
	SharedTaskID string `json:"shared_task_id"`
	SourceNodeID string `json:"source_node_id"`
	SourceTaskID string `json:"source_task_id"`
	ProjectID    string `json:"project_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Version      int64  `json:"version"`
	AssigneeName string `json:"assignee_name,omitempty"`
}

// TaskDeletePayload is Hive->node: a shared task was deleted.
type TaskDeletePayload struct {
	SharedTaskID string `json:"shared_task_id"`
}

// ProjectMembershipChangePayload is Hive->node: which nodes may see a
// project changed.
type ProjectMembershipChangePayload struct {
	RemoteProjectID string   `json:"remote_project_id"`
	NodeIDs         []string `json:"node_ids"`
}

// NodeStatusChangePayload is Hive->node: a peer node's reachability changed.
type NodeStatusChangePayload struct {
	NodeID    string `json:"node_id"`
	Status    string `json:"status"`
	PublicURL string `json:"public_url,omitempty"`
}

// ErrorPayload reports a handler failure for the message identified by the
// enclosing Envelope's ID.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
