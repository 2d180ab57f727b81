// Package api provides the HTTP server of UnifiedViews.
// It uses the Echo framework to serve the JSON REST API under /api/v1, the
// server-rendered web UI, Prometheus metrics and a WebSocket stream of live
// execution and cleanup events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"golang.org/x/time/rate"

	"evalgo.org/unifiedviews/internal/app"
	"evalgo.org/unifiedviews/internal/cleanup"
	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/dpu"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/internal/version"
	"evalgo.org/unifiedviews/internal/web"
)

// Server represents the UnifiedViews HTTP server.
type Server struct {
	echo     *echo.Echo
	app      *app.App
	config   *config.Config
	logger   *log.Logger
	hub      *Hub // WebSocket hub for live events
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new server instance.
func New(a *app.App) *Server {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = a.Config.Server.Debug
	e.Logger = a.Logger
	e.HTTPErrorHandler = HTTPErrorHandler

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		echo:     e,
		app:      a,
		config:   a.Config,
		logger:   a.Logger,
		hub:      NewHub(a.Logger),
		upgrader: newUpgrader(a.Config.Security.AllowedOrigins),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.Deleter.OnProgress(func(st cleanup.Status) {
		server.broadcast(EventCleanupProgress, st)
	})

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
		Output: s.logger.Output(),
	}))

	s.echo.Use(middleware.Recover())
	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(middleware.BodyLimit(bodyLimit(s.config.Files.MaxUploadSize)))
}

// bodyLimit converts the upload limit to Echo's size notation, leaving room
// for the multipart envelope.
func bodyLimit(maxUpload int64) string {
	if maxUpload <= 0 {
		maxUpload = dpu.DefaultMaxUploadSize
	}
	return fmt.Sprintf("%dK", maxUpload/1024+1024)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	am := s.app.Auth

	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(s.app.Metrics.Handler()))

	v1 := s.echo.Group("/api/v1", ValidateContentType)

	// Authentication
	authRoutes := v1.Group("/auth")
	authRoutes.POST("/login", s.login)
	authRoutes.POST("/logout", s.logout)
	authRoutes.GET("/me", s.me, am.RequireAuth)

	// Everything else requires authentication
	api := v1.Group("", am.RequireAuth)

	api.GET("/stats", s.getStatistics)

	// Users (admin only, password change for everyone)
	api.POST("/users/password", s.changePassword)
	users := api.Group("/users", am.RequireAdmin, ValidateAcceptHeader)
	users.GET("", s.listUsers)
	users.POST("", s.createUser)
	users.GET("/:id", s.getUser, ValidateIDFormat)
	users.PUT("/:id", s.updateUser, ValidateIDFormat)
	users.DELETE("/:id", s.deleteUser, ValidateIDFormat)

	// Namespace prefixes
	prefixes := api.Group("/prefixes", ValidateAcceptHeader)
	prefixes.GET("", s.listPrefixes)
	prefixes.POST("", s.createPrefix, am.RequireWrite)
	prefixes.PUT("/:name", s.updatePrefix, am.RequireWrite)
	prefixes.DELETE("/:name", s.deletePrefix, am.RequireWrite)

	// DPU templates
	dpus := api.Group("/dpus")
	dpus.GET("", s.listDPUTemplates, ValidateQueryParams)
	dpus.GET("/missing", s.listMissingJars, am.RequireAdmin)
	dpus.POST("", s.uploadDPU, am.RequireWrite)
	dpus.GET("/:id", s.getDPUTemplate, ValidateIDFormat)
	dpus.PUT("/:id", s.updateDPUTemplate, ValidateIDFormat, am.RequireWrite)
	dpus.POST("/:id/jar", s.replaceDPUJar, ValidateIDFormat, am.RequireWrite)
	dpus.POST("/:id/children", s.createChildTemplate, ValidateIDFormat, am.RequireWrite)
	dpus.DELETE("/:id", s.deleteDPUTemplate, ValidateIDFormat, am.RequireWrite)

	// Pipelines
	pipelines := api.Group("/pipelines")
	pipelines.GET("", s.listPipelines)
	pipelines.POST("", s.createPipeline, am.RequireWrite)
	pipelines.POST("/validate", s.validatePipeline)
	pipelines.POST("/import", s.importPipeline, am.RequireWrite)
	pipelines.GET("/:id", s.getPipeline, ValidateIDFormat)
	pipelines.PUT("/:id", s.updatePipeline, ValidateIDFormat, am.RequireWrite)
	pipelines.DELETE("/:id", s.deletePipeline, ValidateIDFormat, am.RequireWrite)
	pipelines.POST("/:id/copy", s.copyPipeline, ValidateIDFormat, am.RequireWrite)
	pipelines.GET("/:id/export", s.exportPipeline, ValidateIDFormat)
	pipelines.GET("/:id/graph", s.pipelineGraph, ValidateIDFormat)
	pipelines.GET("/:id/order", s.pipelineOrder, ValidateIDFormat)
	pipelines.POST("/:id/run", s.runPipeline, ValidateIDFormat, am.RequireWrite)
	pipelines.GET("/:id/executions", s.listPipelineExecutions, ValidateIDFormat, ValidateQueryParams)
	pipelines.GET("/:id/schedules", s.listPipelineSchedules, ValidateIDFormat)

	// Executions
	executions := api.Group("/executions")
	executions.GET("", s.listExecutions, ValidateQueryParams)
	executions.POST("/cleanup", s.startCleanup, am.RequireAdmin)
	executions.GET("/cleanup", s.cleanupStatus)
	executions.GET("/:id", s.getExecution, ValidateIDFormat)
	executions.POST("/:id/cancel", s.cancelExecution, ValidateIDFormat, am.RequireWrite)
	executions.DELETE("/:id", s.deleteExecution, ValidateIDFormat, am.RequireWrite)

	// Data unit browsing
	executions.GET("/:id/dataunits", s.listDataUnits, ValidateIDFormat)
	executions.POST("/:id/dataunits/:index/query", s.queryDataUnit, ValidateIDFormat)
	executions.POST("/:id/dataunits/:index/count", s.countDataUnit, ValidateIDFormat)
	executions.POST("/:id/dataunits/:index/export", s.exportDataUnit, ValidateIDFormat)
	api.GET("/queries", s.listCannedQueries)
	api.POST("/queries/:name", s.prepareCannedQuery)

	// Schedules
	schedules := api.Group("/schedules")
	schedules.GET("", s.listSchedules)
	schedules.POST("", s.createSchedule, am.RequireWrite)
	schedules.GET("/:id", s.getSchedule, ValidateIDFormat)
	schedules.PUT("/:id", s.updateSchedule, ValidateIDFormat, am.RequireWrite)
	schedules.DELETE("/:id", s.deleteSchedule, ValidateIDFormat, am.RequireWrite)
	schedules.POST("/:id/enable", s.enableSchedule, ValidateIDFormat, am.RequireWrite)
	schedules.POST("/:id/disable", s.disableSchedule, ValidateIDFormat, am.RequireWrite)

	// Live events
	ws := v1.Group("/ws", am.RequireAuth)
	ws.GET("/events", s.handleEvents)
	ws.GET("/stats", s.getEventStats)

	// Web UI
	webHandler := web.NewHandler(s.app, &serverBroadcaster{server: s})
	webHandler.RegisterRoutes(s.echo)
}

// Start starts the background services and the HTTP server. It blocks until
// the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.logger.Infof("Starting UnifiedViews %s", version.GetVersion())
	s.logger.Infof("Address: http://%s", addr)
	s.logger.Infof("Storage: %s, triple store: %s", s.config.Storage.Backend, s.config.TripleStore.QueryEndpoint)

	s.startBackground()

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	var err error
	if s.config.Server.TLSEnabled {
		err = s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	} else {
		err = s.echo.Start(addr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startBackground launches the event hub, the execution watcher, the DPU
// library watcher and the scheduler.
func (s *Server) startBackground() {
	s.goBackground(func() { s.hub.Run(s.ctx) })
	s.goBackground(s.watchExecutions)
	if s.config.Files.WatchLibrary {
		s.goBackground(s.watchLibrary)
	}
	if s.config.Scheduler.Enabled {
		s.app.Scheduler.Start(s.ctx)
	}
}

func (s *Server) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// watchExecutions forwards execution changes to WebSocket clients.
func (s *Server) watchExecutions() {
	err := s.app.Store.WatchExecutions(s.ctx, func(change storage.ExecutionChange) {
		var t EventType
		switch change.Type {
		case storage.ChangeTypeCreated:
			t = EventExecutionCreated
		case storage.ChangeTypeDeleted:
			t = EventExecutionDeleted
		default:
			t = EventExecutionUpdated
		}
		s.broadcast(t, change.Execution)
	})
	if err != nil && s.ctx.Err() == nil {
		s.logger.Errorf("Execution watcher stopped: %v", err)
	}
}

// watchLibrary reports JARs changed outside the application.
func (s *Server) watchLibrary() {
	watcher := dpu.NewWatcher(s.app.Importer.LibraryDir(), s.logger)
	err := watcher.Run(s.ctx, func(ev dpu.Event) {
		s.logger.Warnf("DPU library changed outside UnifiedViews: %s", ev)
		s.broadcast(EventDPULibrary, ev)
	})
	if err != nil && s.ctx.Err() == nil {
		s.logger.Errorf("DPU library watcher stopped: %v", err)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down UnifiedViews server...")

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	s.cancel()
	s.wg.Wait()

	if err := s.app.Close(); err != nil {
		return fmt.Errorf("error closing services: %w", err)
	}

	s.logger.Info("Server shutdown complete")
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string)
	for name, err := range s.app.Ping(ctx) {
		if err == nil {
			checks[name] = "ok"
			continue
		}
		checks[name] = err.Error()
		if name == "storage" {
			status, code = "unhealthy", http.StatusServiceUnavailable
		} else if status == "healthy" {
			status = "degraded"
		}
	}

	return c.JSON(code, map[string]interface{}{
		"status":  status,
		"service": "unifiedviews",
		"version": version.GetVersion(),
		"checks":  checks,
	})
}

// broadcast sends an event to all WebSocket clients
func (s *Server) broadcast(eventType EventType, data interface{}) {
	if err := s.hub.BroadcastEvent(Event{Type: eventType, Data: data}); err != nil {
		s.logger.Errorf("Failed to broadcast %s event: %v", eventType, err)
	}
}

// serverBroadcaster adapts Server to web.EventBroadcaster
type serverBroadcaster struct {
	server *Server
}

// Broadcast implements web.EventBroadcaster
func (sb *serverBroadcaster) Broadcast(eventType string, data interface{}) {
	sb.server.broadcast(EventType(eventType), data)
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
