package models

// MergeKind tags how a Merge record was produced.
type MergeKind string

const (
	MergeDirect MergeKind = "direct"
	MergePR     MergeKind = "pull_request"
)

// PRStatus is the lifecycle of a pull-request-backed Merge.
type PRStatus string

const (
	PRStatusOpen   PRStatus = "open"
	PRStatusMerged PRStatus = "merged"
	PRStatusClosed PRStatus = "closed"
)

// Merge records a merge-back event for an attempt. At most one "latest"
// merge exists per attempt (the most recently created row).
type Merge struct {
	ID        string    `json:"id"`
	AttemptID string    `json:"attempt_id"`
	Kind      MergeKind `json:"kind"`

	MergeCommitOID *string `json:"merge_commit_oid,omitempty"` // Direct

	PRNumber *int64    `json:"pr_number,omitempty"` // PR
	PRURL    *string   `json:"pr_url,omitempty"`
	PRStatus *PRStatus `json:"pr_status,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// LogEntry is one row per log message produced by a process.
type LogEntry struct {
	ID                 int64   `json:"id"`
	ExecutionProcessID string  `json:"execution_process_id"`
	OutputType         string  `json:"output_type"` // stdout|stderr|system
	Content            string  `json:"content"`
	Timestamp          int64   `json:"timestamp"`
	HiveSyncedAt       *int64  `json:"hive_synced_at,omitempty"`
}
