package hiveapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/cspellhq/hivenode/internal/auth"
	"github.com/cspellhq/hivenode/internal/models"
	"github.com/cspellhq/hivenode/internal/syncproto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Nodes dial cross-origin by design (a node's browser UI is not the
	// Hive's origin); the bearer token, not Origin, is the trust boundary.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// sync upgrades a node's authenticated connection to the bidirectional sync
// websocket and keeps it registered for the life of the connection.
func (h *handler) sync(c echo.Context) error {
	claims := auth.NodeClaimsFromContext(c.Request().Context())
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing node claims")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	conn := syncproto.NewConn(ws, h.handleInbound)
	h.d.Nodes.Register(claims.NodeID, conn)
	defer h.d.Nodes.Unregister(claims.NodeID, conn)

	slog.Info("hiveapi: node connected", "node_id", claims.NodeID, "node_name", claims.NodeName)
	if err := conn.Run(c.Request().Context()); err != nil {
		slog.Info("hiveapi: node disconnected", "node_id", claims.NodeID, "error", err)
	}
	return nil
}

// handleInbound applies a node->Hive envelope. Only node_heartbeat needs
// handling at this layer; task mutations arrive over the REST endpoints so
// they go through the same version-checked Store path regardless of
// whether the call originated from a node or a human-facing client.
func (h *handler) handleInbound(ctx context.Context, env *syncproto.Envelope) (any, error) {
	if env.Method == syncproto.MethodNodeHeartbeat {
		return map[string]string{"status": "ok"}, nil
	}
	return nil, nil
}

func (h *handler) broadcastTaskUpsert(t *models.SharedTask) {
	payload := syncproto.TaskUpsertPayload{
		SharedTaskID: t.ID,
		SourceTaskID: derefOr(t.SourceTaskID, ""),
		ProjectID:    t.ProjectID,
		Title:        t.Title,
		Description:  t.Description,
		Status:       string(t.Status),
		Version:      t.Version,
	}
	if t.AssigneeUserID != nil {
		payload.AssigneeName = *t.AssigneeUserID
	}
	h.pushTo(t.OwnerNodeID, syncproto.MethodTaskUpsert, payload)
	if t.ExecutingNodeID != nil && *t.ExecutingNodeID != t.OwnerNodeID {
		h.pushTo(*t.ExecutingNodeID, syncproto.MethodTaskUpsert, payload)
	}
}

// broadcastTaskDelete takes the task as loaded before its soft delete, since
// deleted rows are no longer visible to GetSharedTask.
func (h *handler) broadcastTaskDelete(t *models.SharedTask) {
	payload := syncproto.TaskDeletePayload{SharedTaskID: t.ID}
	h.pushTo(t.OwnerNodeID, syncproto.MethodTaskDelete, payload)
	if t.ExecutingNodeID != nil && *t.ExecutingNodeID != t.OwnerNodeID {
		h.pushTo(*t.ExecutingNodeID, syncproto.MethodTaskDelete, payload)
	}
}

func (h *handler) pushTo(nodeID string, method syncproto.Method, payload any) {
	conn, ok := h.d.Nodes.Get(nodeID)
	if !ok {
		return
	}
	if err := conn.Send(method, payload); err != nil {
		slog.Warn("hiveapi: push to node failed", "node_id", nodeID, "method", method, "error", err)
	}
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
