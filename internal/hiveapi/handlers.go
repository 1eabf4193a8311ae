package hiveapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cspellhq/hivenode/internal/apperr"
	"github.com/cspellhq/hivenode/internal/auth"
	"github.com/cspellhq/hivenode/internal/models"
)

func writeErr(c echo.Context, err error) error {
	switch e := err.(type) {
	case *apperr.NotFound:
		return echo.NewHTTPError(http.StatusNotFound, e.Error())
	case *apperr.Conflict:
		return echo.NewHTTPError(http.StatusConflict, e.Error())
	case *apperr.PayloadTooLarge:
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, e.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *handler) getProject(c echo.Context) error {
	owner, err := h.d.Store.GetProjectOwner(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"id": c.Param("id"), "organization_id": owner.OrganizationID,
	})
}

func (h *handler) getProjectNodes(c echo.Context) error {
	nodes, err := h.d.Store.GetProjectNodes(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeErr(c, err)
	}
	out := make([]models.NodeInfo, len(nodes))
	for i, n := range nodes {
		status := models.NodeOffline
		if h.d.Nodes.IsOnline(n.NodeID) {
			status = models.NodeOnline
		}
		out[i] = models.NodeInfo{NodeID: n.NodeID, NodeName: n.NodeName, NodeStatus: status}
	}
	return c.JSON(http.StatusOK, out)
}

type createSharedTaskRequest struct {
	ProjectID    string  `json:"project_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	SourceTaskID *string `json:"source_task_id,omitempty"`
	SourceNodeID *string `json:"source_node_id,omitempty"`
}

func (h *handler) createSharedTask(c echo.Context) error {
	var req createSharedTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	claims := auth.NodeClaimsFromContext(c.Request().Context())

	t := &models.SharedTask{
		ProjectID:      req.ProjectID,
		OrganizationID: claims.OrganizationID,
		CreatorUserID:  claims.NodeID,
		OwnerNodeID:    claims.NodeID,
		OwnerName:      claims.NodeName,
		SourceNodeID:   req.SourceNodeID,
		SourceTaskID:   req.SourceTaskID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         models.TaskStatus("todo"),
	}
	wasCreated, err := h.d.Store.UpsertFromNode(c.Request().Context(), t)
	if err != nil {
		return writeErr(c, err)
	}
	if wasCreated {
		h.broadcastTaskUpsert(t)
	}
	return c.JSON(http.StatusOK, map[string]any{"task": t})
}

type patchSharedTaskRequest struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Status          *string `json:"status,omitempty"`
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
}

func (h *handler) patchSharedTask(c echo.Context) error {
	var req patchSharedTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var expected int64
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	} else {
		// No expected_version: check against the version read just now.
		current, err := h.d.Store.GetSharedTask(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeErr(c, err)
		}
		expected = current.Version
	}
	t, err := h.d.Store.Update(c.Request().Context(), c.Param("id"), req.Title, req.Description, req.Status, expected)
	if err != nil {
		return writeErr(c, err)
	}
	h.broadcastTaskUpsert(t)
	return c.JSON(http.StatusOK, map[string]any{"task": t})
}

func (h *handler) deleteSharedTask(c echo.Context) error {
	claims := auth.NodeClaimsFromContext(c.Request().Context())
	sharedTaskID := c.Param("id")
	t, err := h.d.Store.GetSharedTask(c.Request().Context(), sharedTaskID)
	if err != nil {
		return writeErr(c, err)
	}
	if err := h.d.Store.Delete(c.Request().Context(), sharedTaskID, claims.NodeID); err != nil {
		return writeErr(c, err)
	}
	h.broadcastTaskDelete(t)
	return c.NoContent(http.StatusNoContent)
}

type assignSharedTaskRequest struct {
	AssigneeUserID  string `json:"assignee_user_id"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

func (h *handler) assignSharedTask(c echo.Context) error {
	var req assignSharedTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var expected int64
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	} else {
		current, err := h.d.Store.GetSharedTask(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeErr(c, err)
		}
		expected = current.Version
	}
	t, err := h.d.Store.Assign(c.Request().Context(), c.Param("id"), req.AssigneeUserID, expected)
	if err != nil {
		return writeErr(c, err)
	}
	h.broadcastTaskUpsert(t)
	return c.JSON(http.StatusOK, map[string]any{"task": t})
}

func (h *handler) streamConnectionInfo(c echo.Context) error {
	t, err := h.d.Store.GetSharedTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeErr(c, err)
	}
	nodeID := t.OwnerNodeID
	if t.ExecutingNodeID != nil {
		nodeID = *t.ExecutingNodeID
	}
	status := "offline"
	if h.d.Nodes.IsOnline(nodeID) {
		status = "online"
	}
	return c.JSON(http.StatusOK, map[string]string{"node_status": status})
}

func (h *handler) bulkFetch(c echo.Context) error {
	var sinceSeq int64
	if v := c.QueryParam("since_seq"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &sinceSeq); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since_seq")
		}
	}
	tasks, deletedIDs, latestSeq, err := h.d.Store.BulkFetch(c.Request().Context(), c.Param("id"), sinceSeq)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tasks": tasks, "deleted_ids": deletedIDs, "latest_seq": latestSeq,
	})
}
