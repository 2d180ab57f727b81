package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/cleanup"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

// CleanupRequest starts the deletion of old executions
type CleanupRequest struct {
	Before     time.Time `json:"before" validate:"required"`
	PipelineID string    `json:"pipelineId,omitempty"`
}

// executionFilter reads the status, pipeline and before query parameters.
// Pagination is applied to the filtered list afterwards.
func executionFilter(c echo.Context) (storage.ExecutionFilter, error) {
	filter := storage.ExecutionFilter{PipelineID: c.QueryParam("pipeline")}
	if status := c.QueryParam("status"); status != "" {
		for _, st := range strings.Split(status, ",") {
			filter.Status = append(filter.Status, models.ExecutionStatus(st))
		}
	}
	if before := c.QueryParam("before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return filter, BadRequestError("Invalid before parameter", "expected an RFC 3339 timestamp: "+err.Error())
		}
		filter.Before = t
	}
	return filter, nil
}

// visibleExecutions drops executions of pipelines the caller may not see.
// Executions whose pipeline is gone stay visible to their owner.
func (s *Server) visibleExecutions(c echo.Context, executions []*models.Execution) []*models.Execution {
	if auth.IsAdmin(c) {
		return executions
	}
	seen := make(map[string]bool)
	out := make([]*models.Execution, 0, len(executions))
	for _, e := range executions {
		ok, cached := seen[e.PipelineID]
		if !cached {
			p, err := s.app.Store.GetPipeline(e.PipelineID)
			ok = err == nil && auth.Visible(c, p.Owner, p.Visibility)
			seen[e.PipelineID] = ok
		}
		if ok || e.Owner == auth.Actor(c) {
			out = append(out, e)
		}
	}
	return out
}

// loadExecution fetches an execution the caller may see.
func (s *Server) loadExecution(c echo.Context) (*models.Execution, error) {
	e, err := s.app.Store.GetExecution(c.Param("id"))
	if err != nil {
		return nil, err
	}
	if len(s.visibleExecutions(c, []*models.Execution{e})) == 0 {
		return nil, NotFoundError("Execution", e.ID)
	}
	return e, nil
}

// listExecutions handles GET /api/v1/executions
func (s *Server) listExecutions(c echo.Context) error {
	filter, err := executionFilter(c)
	if err != nil {
		return err
	}
	executions, err := s.app.Store.ListExecutions(filter)
	if err != nil {
		return InternalError("Failed to list executions", err.Error())
	}
	return c.JSON(http.StatusOK, listResponse(c, s.visibleExecutions(c, executions)))
}

// getExecution handles GET /api/v1/executions/:id
func (s *Server) getExecution(c echo.Context) error {
	e, err := s.loadExecution(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

// cancelExecution handles POST /api/v1/executions/:id/cancel
func (s *Server) cancelExecution(c echo.Context) error {
	e, err := s.loadExecution(c)
	if err != nil {
		return err
	}
	if !auth.Owns(c, e.Owner) {
		return forbidden("Execution", e.ID)
	}
	if !e.CanCancel() {
		return ConflictError("Execution cannot be cancelled", "execution is "+string(e.Status))
	}
	e.Cancel()
	if err := s.app.Store.SaveExecution(e); err != nil {
		return err
	}
	s.logger.Infof("Execution %s cancelled by %s", e.ID, auth.Actor(c))
	return c.JSON(http.StatusOK, e)
}

// deleteExecution handles DELETE /api/v1/executions/:id
func (s *Server) deleteExecution(c echo.Context) error {
	e, err := s.loadExecution(c)
	if err != nil {
		return err
	}
	if !auth.Owns(c, e.Owner) {
		return forbidden("Execution", e.ID)
	}
	if err := s.app.Deleter.Delete(auth.Actor(c), e.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// startCleanup handles POST /api/v1/executions/cleanup
func (s *Server) startCleanup(c echo.Context) error {
	var req CleanupRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	st, err := s.app.Deleter.Start(auth.Actor(c), cleanup.Request{Before: req.Before, PipelineID: req.PipelineID})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, st)
}

// cleanupStatus handles GET /api/v1/executions/cleanup
func (s *Server) cleanupStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Deleter.Status())
}
