// Package hiveclient is the node's HTTP/WebSocket client to the Hive
// coordinator: the REST calls of spec §6 plus dialing the sync websocket.
// Grounded on the teacher's ControlPlaneClient (plain net/http.Client, one
// method per endpoint, JSON request/response) generalized from a single
// auth control-plane to the Hive's task-federation surface.
package hiveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cspellhq/hivenode/internal/apperr"
	"github.com/cspellhq/hivenode/internal/models"
	"github.com/cspellhq/hivenode/internal/syncproto"
)

// ErrNotFound is returned when the Hive responds 404, signaling a re-sync
// per §4.5/§7.
var ErrNotFound error = &apperr.NotFound{Kind: "shared_task"}

// Client talks to one Hive instance on behalf of this node.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Hive client. token is the node's bearer token (see
// internal/auth); it may be empty before the node has registered.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken updates the bearer token used for subsequent requests, e.g.
// after the Hive issues a fresh one on registration.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ProjectSummary is the response shape of GET /projects/{id}.
type ProjectSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id"`
}

// GetProject fetches a Hive project summary.
func (c *Client) GetProject(ctx context.Context, remoteProjectID string) (*ProjectSummary, error) {
	var out ProjectSummary
	if err := c.do(ctx, http.MethodGet, "/projects/"+remoteProjectID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProjectNodes fetches the nodes with access to a Hive project.
func (c *Client) GetProjectNodes(ctx context.Context, remoteProjectID string) ([]models.NodeInfo, error) {
	var out []models.NodeInfo
	if err := c.do(ctx, http.MethodGet, "/projects/"+remoteProjectID+"/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SharedTaskResponse wraps a shared task with the optionally-resolved user
// who triggered the mutation, per §6's `{task, user?}` response shape.
type SharedTaskResponse struct {
	Task *models.SharedTask `json:"task"`
	User *UserSummary       `json:"user,omitempty"`
}

// UserSummary is the minimal resolved-user shape embedded in task responses.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CreateSharedTaskRequest is the body of POST /shared-tasks.
type CreateSharedTaskRequest struct {
	ProjectID    string  `json:"project_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	SourceTaskID *string `json:"source_task_id,omitempty"`
	SourceNodeID *string `json:"source_node_id,omitempty"`
	StartAttempt bool    `json:"start_attempt,omitempty"`
}

// CreateSharedTask shares a task with the Hive for the first time, or
// re-establishes sharing after a stale shared_task_id was dropped.
func (c *Client) CreateSharedTask(ctx context.Context, req *CreateSharedTaskRequest) (*SharedTaskResponse, error) {
	var out SharedTaskResponse
	if err := c.do(ctx, http.MethodPost, "/shared-tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchSharedTaskRequest is the body of PATCH /shared-tasks/{id}.
type PatchSharedTaskRequest struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Status          *string `json:"status,omitempty"`
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
}

// PatchSharedTask updates a shared task. A 404 response maps to ErrNotFound
// so the caller can trigger the §4.5 re-sync flow.
func (c *Client) PatchSharedTask(ctx context.Context, sharedTaskID string, req *PatchSharedTaskRequest) (*SharedTaskResponse, error) {
	var out SharedTaskResponse
	if err := c.do(ctx, http.MethodPatch, "/shared-tasks/"+sharedTaskID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSharedTask soft-deletes a shared task on the Hive.
func (c *Client) DeleteSharedTask(ctx context.Context, sharedTaskID string) error {
	return c.do(ctx, http.MethodDelete, "/shared-tasks/"+sharedTaskID, nil, nil)
}

// AssignSharedTaskRequest is the body of POST /shared-tasks/{id}/assign.
type AssignSharedTaskRequest struct {
	AssigneeUserID string `json:"assignee_user_id"`
}

// AssignSharedTask reassigns a shared task.
func (c *Client) AssignSharedTask(ctx context.Context, sharedTaskID, assigneeUserID string) (*SharedTaskResponse, error) {
	var out SharedTaskResponse
	req := AssignSharedTaskRequest{AssigneeUserID: assigneeUserID}
	if err := c.do(ctx, http.MethodPost, "/shared-tasks/"+sharedTaskID+"/assign", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamConnectionInfo is the response of GET
// /shared-tasks/{id}/stream-connection-info: where to reach the node
// currently executing a task's attempt.
type StreamConnectionInfo struct {
	NodePublicURL string `json:"node_public_url"`
	NodeStatus    string `json:"node_status"`
}

// GetStreamConnectionInfo resolves which node (and whether it's reachable)
// owns a shared task's execution right now.
func (c *Client) GetStreamConnectionInfo(ctx context.Context, sharedTaskID string) (*StreamConnectionInfo, error) {
	var out StreamConnectionInfo
	if err := c.do(ctx, http.MethodGet, "/shared-tasks/"+sharedTaskID+"/stream-connection-info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DialSync opens the bidirectional sync websocket (§6) and wraps it in a
// syncproto.Conn driven by handler.
func (c *Client) DialSync(ctx context.Context, handler syncproto.Handler) (*syncproto.Conn, error) {
	wsURL := toWebsocketURL(c.baseURL) + "/sync"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial hive sync: %w", err)
	}
	return syncproto.NewConn(ws, handler), nil
}

func toWebsocketURL(httpURL string) string {
	switch {
	case len(httpURL) >= 5 && httpURL[:5] == "https":
		return "wss" + httpURL[5:]
	case len(httpURL) >= 4 && httpURL[:4] == "http":
		return "ws" + httpURL[4:]
	default:
		return httpURL
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call hive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hive returned status %d for %s %s", resp.StatusCode, method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
