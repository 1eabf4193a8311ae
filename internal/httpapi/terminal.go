package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/labstack/echo/v4"
)

type openTerminalRequest struct {
	Path string `json:"path"`
}

func (h *handler) openTerminal(c echo.Context) error {
	var req openTerminalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := h.d.Terminal.Open(c.Request().Context(), req.Path)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

type writeTerminalRequest struct {
	// Data is base64-encoded so arbitrary (including control) bytes survive
	// JSON transport unchanged.
	Data string `json:"data"`
}

func (h *handler) writeTerminal(c echo.Context) error {
	var req writeTerminalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	raw, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "data must be base64")
	}
	if err := h.d.Terminal.Write(c.Param("id"), raw); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type resizeTerminalRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (h *handler) resizeTerminal(c echo.Context) error {
	var req resizeTerminalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.d.Terminal.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) closeTerminal(c echo.Context) error {
	if err := h.d.Terminal.Close(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
