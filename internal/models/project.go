package models

// Project is a git repository registered on a node.
//
// Path is unique among local (non-remote) projects. RemoteProjectID is
// unique among projects linked to a Hive project.
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RepoPath string `json:"repo_path"`

	SetupScript   *string `json:"setup_script,omitempty"`
	DevScript     *string `json:"dev_script,omitempty"`
	CleanupScript *string `json:"cleanup_script,omitempty"`

	RemoteProjectID *string `json:"remote_project_id,omitempty"`
	IsRemote        bool    `json:"is_remote"`

	// Populated only when IsRemote is true.
	SourceNodeID     *string `json:"source_node_id,omitempty"`
	SourceNodeName   *string `json:"source_node_name,omitempty"`
	SourceNodeStatus *string `json:"source_node_status,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// CachedNodeProject is a denormalized read-model for a remote project: the
// last-known owning node's status and public URL, kept in sync by the
// sync protocol so the proxy router does not need a Hive round trip on
// every forwarded request.
type CachedNodeProject struct {
	RemoteProjectID string  `json:"remote_project_id"`
	SourceNodeID    string  `json:"source_node_id"`
	NodeName        string  `json:"node_name"`
	NodeStatus      string  `json:"node_status"`
	NodePublicURL   *string `json:"node_public_url,omitempty"`
	UpdatedAt       int64   `json:"updated_at"`
}

// GitHubConnection is a connected GitHub account or org used as the
// credential source for authenticated git operations.
type GitHubConnection struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "org" or "user"
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	Token     string `json:"-"` // encrypted at rest, never serialized
	Scope     string `json:"scope"`
	CreatedAt int64  `json:"created_at"`
}

// Agent is a saved system-prompt + tool-allowlist configuration a task can
// bind to.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	SystemPrompt string   `json:"system_prompt"`
	Tools        []string `json:"tools"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
}

// ValidTools is the list of tool identifiers an Agent may be assigned.
var ValidTools = []string{
	"bash", "edit", "glob", "grep", "ls", "multiedit", "read", "todo", "write",
}
