package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/cspellhq/hivenode/internal/models"
	"github.com/cspellhq/hivenode/internal/taskattempt"
)

func (h *handler) listProjects(c echo.Context) error {
	projects, err := h.d.Projects.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, projects)
}

type createProjectRequest struct {
	Name     string `json:"name"`
	RepoPath string `json:"repo_path"`
}

func (h *handler) createProject(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	now := time.Now().Unix()
	p := &models.Project{
		ID:        shortuuid.New(),
		Name:      req.Name,
		RepoPath:  req.RepoPath,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.d.Projects.Insert(c.Request().Context(), p); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *handler) getProject(c echo.Context) error {
	p, err := h.d.Projects.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *handler) deleteProject(c echo.Context) error {
	if err := h.d.Projects.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) getTask(c echo.Context) error {
	t, err := h.d.Tasks.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if t == nil {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handler) shareTask(c echo.Context) error {
	if h.d.SharedTask == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "node is not connected to a hive")
	}
	task, err := h.d.Tasks.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if task == nil {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	shared, err := h.d.SharedTask.ShareTask(c.Request().Context(), task)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, shared)
}

type startAttemptRequest struct {
	TaskID            string `json:"task_id"`
	Executor          string `json:"executor"`
	BaseBranch        string `json:"base_branch"`
	UseParentWorktree bool   `json:"use_parent_worktree"`
	Variant           string `json:"variant"`
}

func (h *handler) startAttempt(c echo.Context) error {
	var req startAttemptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	attempt, process, err := h.d.Engine.StartAttempt(c.Request().Context(), taskattempt.StartAttemptOptions{
		TaskID:            req.TaskID,
		Executor:          models.CodingAgent(req.Executor),
		BaseBranch:        req.BaseBranch,
		UseParentWorktree: req.UseParentWorktree,
		Variant:           req.Variant,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]any{"attempt": attempt, "process": process})
}

type followUpRequest struct {
	Prompt  string `json:"prompt"`
	Variant string `json:"variant"`
}

func (h *handler) followUp(c echo.Context) error {
	var req followUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	process, err := h.d.Engine.FollowUp(c.Request().Context(), c.Param("id"), req.Prompt, req.Variant)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, process)
}

func (h *handler) stopAttempt(c echo.Context) error {
	if err := h.d.Engine.Stop(c.Request().Context(), c.Param("id"), 10*time.Second); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) mergeAttempt(c echo.Context) error {
	merge, err := h.d.Engine.Merge(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, merge)
}

func (h *handler) streamDiff(c echo.Context) error {
	statsOnly := c.QueryParam("stats_only") == "true"
	diff, stats, err := h.d.Engine.StreamDiff(c.Request().Context(), c.Param("id"), statsOnly)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"diff": diff, "stats": stats})
}

func (h *handler) branchStatus(c echo.Context) error {
	status, err := h.d.Engine.GetBranchStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, status)
}

// streamEntries serves a conversation as Server-Sent Events: a replay of
// persisted entries followed by a live tail, mirroring the teacher's
// line-buffered PTY output with a web-friendly transport.
func (h *handler) streamEntries(c echo.Context) error {
	store := h.d.MessageStores.For(c.Param("id"))

	replay, err := store.Replay(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().WriteHeader(http.StatusOK)

	enc := newSSEEncoder(c.Response())
	for _, patch := range replay {
		if err := enc.Write(patch); err != nil {
			return nil
		}
	}
	c.Response().Flush()

	ch, unsubscribe := store.Subscribe()
	defer unsubscribe()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case patch, ok := <-ch:
			if !ok {
				return nil
			}
			if err := enc.Write(patch); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}
