// Package hiveapi is the Hive coordinator's HTTP/WebSocket surface: the
// shared-task REST endpoints a node's hiveclient calls, and the bidirectional
// sync websocket, both gated by the node bearer token from internal/auth.
package hiveapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cspellhq/hivenode/internal/auth"
	"github.com/cspellhq/hivenode/internal/hive"
)

// Deps are the Hive's wired collaborators.
type Deps struct {
	Store     *hive.Store
	Nodes     *NodeRegistry
	JWTSecret string
}

// New builds the Hive's Echo instance with every route mounted.
func New(d *Deps) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "service": "hive"})
	})

	h := &handler{d: d}

	nodeAuth := auth.RequireNodeToken(d.JWTSecret)

	api := e.Group("", nodeAuth)
	api.GET("/projects/:id", h.getProject)
	api.GET("/projects/:id/nodes", h.getProjectNodes)
	api.GET("/projects/:id/shared-tasks", h.bulkFetch)

	api.POST("/shared-tasks", h.createSharedTask)
	api.PATCH("/shared-tasks/:id", h.patchSharedTask)
	api.DELETE("/shared-tasks/:id", h.deleteSharedTask)
	api.POST("/shared-tasks/:id/assign", h.assignSharedTask)
	api.GET("/shared-tasks/:id/stream-connection-info", h.streamConnectionInfo)

	e.GET("/sync", h.sync, nodeAuth)

	return e
}

type handler struct {
	d *Deps
}
