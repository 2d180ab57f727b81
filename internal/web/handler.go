// Package web serves the server-rendered management UI.
//
// Pages are html/template files embedded in the binary and rendered as
// templ components. Forms post back to the handlers here, which redirect
// with a flash message, so every page works without JavaScript.
package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/app"
	"evalgo.org/unifiedviews/internal/auth"
)

const (
	// Prefix is the path of the web UI.
	Prefix = "/web"

	loginPath   = Prefix + "/login"
	flashCookie = "uv_flash"
)

// EventBroadcaster publishes live events to connected clients.
type EventBroadcaster interface {
	Broadcast(eventType string, data interface{})
}

// Handler handles web UI requests.
type Handler struct {
	app    *app.App
	events EventBroadcaster
	logger *log.Logger
}

// NewHandler creates a new web handler. events may be nil.
func NewHandler(a *app.App, events EventBroadcaster) *Handler {
	return &Handler{app: a, events: events, logger: a.Logger}
}

// RegisterRoutes adds the web UI routes to e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, Prefix+"/")
	})
	e.GET(Prefix+"/static/*", echo.WrapHandler(http.StripPrefix(Prefix+"/static/", http.FileServer(http.FS(staticFS())))))

	e.GET(loginPath, h.LoginPage)
	e.POST(loginPath, h.Login)
	e.POST(Prefix+"/logout", h.Logout)

	g := e.Group(Prefix, h.app.Auth.RequireSession(loginPath))
	g.GET("/", h.Dashboard)

	g.GET("/pipelines", h.PipelinesList)
	g.POST("/pipelines/import", h.ImportPipeline, requireWrite)
	g.GET("/pipelines/:id", h.PipelineDetail)
	g.GET("/pipelines/:id/export", h.ExportPipeline)
	g.POST("/pipelines/:id/copy", h.CopyPipeline, requireWrite)
	g.POST("/pipelines/:id/run", h.RunPipeline, requireWrite)
	g.POST("/pipelines/:id/delete", h.DeletePipeline, requireWrite)

	g.GET("/dpus", h.DPUsList)
	g.POST("/dpus", h.UploadDPU, requireWrite)
	g.GET("/dpus/:id", h.DPUDetail)
	g.POST("/dpus/:id/delete", h.DeleteDPU, requireWrite)

	g.GET("/executions", h.ExecutionsList)
	g.POST("/executions/cleanup", h.StartCleanup, requireAdmin)
	g.GET("/executions/:id", h.ExecutionDetail)
	g.POST("/executions/:id/cancel", h.CancelExecution, requireWrite)
	g.POST("/executions/:id/delete", h.DeleteExecution, requireWrite)
	g.GET("/executions/:id/dataunits/:index", h.Browse)
	g.GET("/executions/:id/dataunits/:index/export", h.ExportDataUnit)

	g.GET("/schedules", h.SchedulesList)
	g.POST("/schedules", h.CreateSchedule, requireWrite)
	g.POST("/schedules/:id/enable", h.EnableSchedule, requireWrite)
	g.POST("/schedules/:id/disable", h.DisableSchedule, requireWrite)
	g.POST("/schedules/:id/delete", h.DeleteSchedule, requireWrite)

	g.GET("/prefixes", h.PrefixesList)
	g.POST("/prefixes", h.CreatePrefix, requireWrite)
	g.POST("/prefixes/:name/delete", h.DeletePrefix, requireWrite)

	g.GET("/users", h.UsersList, requireAdmin)
	g.POST("/users", h.CreateUser, requireAdmin)
	g.POST("/users/:id/delete", h.DeleteUser, requireAdmin)
}

// broadcast forwards an event when a broadcaster is attached.
func (h *Handler) broadcast(eventType string, data interface{}) {
	if h.events != nil {
		h.events.Broadcast(eventType, data)
	}
}

// requireWrite sends read-only users back with an error message.
func requireWrite(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !auth.CanWrite(c) {
			return redirectError(c, back(c), "You do not have permission to change data")
		}
		return next(c)
	}
}

// requireAdmin refuses non-administrators.
func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !auth.IsAdmin(c) {
			if c.Request().Method == http.MethodGet {
				return c.String(http.StatusForbidden, "Admin access required")
			}
			return redirectError(c, back(c), "Admin access required")
		}
		return next(c)
	}
}

// back returns the page a form was posted from, or the dashboard.
func back(c echo.Context) string {
	if ref, err := url.Parse(c.Request().Referer()); err == nil && strings.HasPrefix(ref.Path, Prefix+"/") {
		return ref.RequestURI()
	}
	return Prefix + "/"
}
