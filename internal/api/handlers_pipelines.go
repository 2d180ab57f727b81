package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/pipeline"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/internal/validation"
	"evalgo.org/unifiedviews/models"
)

// PipelineRequest creates or replaces a pipeline
type PipelineRequest struct {
	Name        string            `json:"name" validate:"required,max=256"`
	Description string            `json:"description,omitempty"`
	Visibility  models.Visibility `json:"visibility,omitempty" validate:"omitempty,oneof=private public"`
	Graph       models.Graph      `json:"graph"`
}

// PipelineResponse is a stored pipeline with the warnings found while saving.
type PipelineResponse struct {
	*models.Pipeline
	Warnings []string `json:"warnings,omitempty"`
}

// ValidateResponse reports the problems of a pipeline document.
type ValidateResponse struct {
	Valid    bool                         `json:"valid"`
	Errors   []validation.ValidationError `json:"errors"`
	Warnings []string                     `json:"warnings"`
}

// OrderResponse is the execution order of a pipeline.
type OrderResponse struct {
	Order []string   `json:"order"`
	Waves [][]string `json:"waves"`
}

// invalidPipeline reports the errors of a pipeline that was not stored.
func invalidPipeline(res *pipeline.Result, err error) error {
	if res == nil || !errors.Is(err, pipeline.ErrInvalid) {
		return err
	}
	return &APIError{
		Code:    http.StatusBadRequest,
		Message: "Invalid pipeline",
		Details: strings.Join(res.Errors, "; "),
		Context: map[string]interface{}{"errors": res.Errors, "warnings": res.Warnings},
	}
}

// loadPipeline fetches a pipeline the caller may see.
func (s *Server) loadPipeline(c echo.Context) (*models.Pipeline, error) {
	p, err := s.app.Store.GetPipeline(c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !auth.Visible(c, p.Owner, p.Visibility) {
		return nil, NotFoundError("Pipeline", p.ID)
	}
	return p, nil
}

// listPipelines handles GET /api/v1/pipelines
func (s *Server) listPipelines(c echo.Context) error {
	filter := storage.PipelineFilter{
		Owner:      c.QueryParam("owner"),
		Visibility: models.Visibility(c.QueryParam("visibility")),
	}
	pipelines, err := s.app.Store.ListPipelines(filter)
	if err != nil {
		return InternalError("Failed to list pipelines", err.Error())
	}
	if q := strings.ToLower(c.QueryParam("q")); q != "" {
		matched := pipelines[:0]
		for _, p := range pipelines {
			if strings.Contains(strings.ToLower(p.Name), q) {
				matched = append(matched, p)
			}
		}
		pipelines = matched
	}

	visiblePipelines := make([]*models.Pipeline, 0, len(pipelines))
	for _, p := range pipelines {
		if auth.Visible(c, p.Owner, p.Visibility) {
			visiblePipelines = append(visiblePipelines, p)
		}
	}
	return c.JSON(http.StatusOK, listResponse(c, visiblePipelines))
}

// createPipeline handles POST /api/v1/pipelines
func (s *Server) createPipeline(c echo.Context) error {
	var req PipelineRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	p := models.NewPipeline(req.Name, auth.Actor(c))
	p.Description = req.Description
	if req.Visibility != "" {
		p.Visibility = req.Visibility
	}
	p.Graph = req.Graph

	res, err := s.app.Pipelines.Save(p)
	if err != nil {
		return invalidPipeline(res, err)
	}
	s.logger.Infof("Pipeline %s created by %s", p.Name, auth.Actor(c))
	s.broadcast(EventPipelineChanged, map[string]string{"id": p.ID, "action": "created"})
	return c.JSON(http.StatusCreated, PipelineResponse{Pipeline: p, Warnings: res.Warnings})
}

// getPipeline handles GET /api/v1/pipelines/:id
func (s *Server) getPipeline(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// updatePipeline handles PUT /api/v1/pipelines/:id
func (s *Server) updatePipeline(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	if !auth.Owns(c, p.Owner) {
		return forbidden("Pipeline", p.ID)
	}
	var req PipelineRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	p.Name = req.Name
	p.Description = req.Description
	if req.Visibility != "" {
		p.Visibility = req.Visibility
	}
	p.Graph = req.Graph

	res, err := s.app.Pipelines.Save(p)
	if err != nil {
		return invalidPipeline(res, err)
	}
	s.broadcast(EventPipelineChanged, map[string]string{"id": p.ID, "action": "updated"})
	return c.JSON(http.StatusOK, PipelineResponse{Pipeline: p, Warnings: res.Warnings})
}

// deletePipeline handles DELETE /api/v1/pipelines/:id
func (s *Server) deletePipeline(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	if !auth.Owns(c, p.Owner) {
		return forbidden("Pipeline", p.ID)
	}
	if err := s.app.Pipelines.Delete(p.ID, auth.Actor(c)); err != nil {
		return err
	}
	s.broadcast(EventPipelineChanged, map[string]string{"id": p.ID, "action": "deleted"})
	return c.NoContent(http.StatusNoContent)
}

// copyPipeline handles POST /api/v1/pipelines/:id/copy
func (s *Server) copyPipeline(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	copied, err := s.app.Pipelines.Copy(p.ID, auth.Actor(c))
	if err != nil {
		return err
	}
	s.broadcast(EventPipelineChanged, map[string]string{"id": copied.ID, "action": "created"})
	return c.JSON(http.StatusCreated, copied)
}

// validatePipeline handles POST /api/v1/pipelines/validate
//
// The body is a pipeline JSON-LD document. Structural problems are reported
// before the graph is checked against the installed templates.
func (s *Server) validatePipeline(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequestError("Failed to read request body", err.Error())
	}
	p, res, err := s.app.Validator.ValidatePipelineDocument(body)
	if err != nil {
		return InternalError("Validation failed", err.Error())
	}
	resp := ValidateResponse{Valid: res.Valid, Errors: res.Errors, Warnings: []string{}}
	if resp.Errors == nil {
		resp.Errors = []validation.ValidationError{}
	}
	if !res.Valid {
		return c.JSON(http.StatusOK, resp)
	}

	graphResult, err := s.app.Pipelines.Check(p)
	if err != nil {
		return err
	}
	for _, msg := range graphResult.Errors {
		resp.Errors = append(resp.Errors, validation.ValidationError{Field: "graph", Message: msg})
	}
	resp.Warnings = append(resp.Warnings, graphResult.Warnings...)
	resp.Valid = graphResult.Valid()
	return c.JSON(http.StatusOK, resp)
}

// importPipeline handles POST /api/v1/pipelines/import with a YAML body
func (s *Server) importPipeline(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequestError("Failed to read request body", err.Error())
	}
	if len(body) == 0 {
		return BadRequestError("Empty document", "request body must be a pipeline YAML document")
	}
	p, res, err := s.app.Pipelines.Import(body, auth.Actor(c))
	if err != nil {
		return invalidPipeline(res, err)
	}
	s.broadcast(EventPipelineChanged, map[string]string{"id": p.ID, "action": "created"})
	return c.JSON(http.StatusCreated, PipelineResponse{Pipeline: p, Warnings: res.Warnings})
}

// exportPipeline handles GET /api/v1/pipelines/:id/export
func (s *Server) exportPipeline(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	_, data, err := s.app.Pipelines.Export(p.ID)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(p.Name, ".yaml"))
	return c.Blob(http.StatusOK, "application/yaml", data)
}

// pipelineGraph handles GET /api/v1/pipelines/:id/graph
func (s *Server) pipelineGraph(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	var b strings.Builder
	if err := s.app.Pipelines.WriteDOT(p.ID, &b); err != nil {
		return InternalError("Failed to render graph", err.Error())
	}
	return c.Blob(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(b.String()))
}

// pipelineOrder handles GET /api/v1/pipelines/:id/order
func (s *Server) pipelineOrder(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	order, err := pipeline.Order(p)
	if err != nil {
		return err
	}
	waves, err := pipeline.Waves(p)
	if err != nil {
		return err
	}
	resp := OrderResponse{Order: make([]string, 0, len(order)), Waves: make([][]string, 0, len(waves))}
	for _, n := range order {
		resp.Order = append(resp.Order, n.ID)
	}
	for _, wave := range waves {
		ids := make([]string, 0, len(wave))
		for _, n := range wave {
			ids = append(ids, n.ID)
		}
		resp.Waves = append(resp.Waves, ids)
	}
	return c.JSON(http.StatusOK, resp)
}

// runPipeline handles POST /api/v1/pipelines/:id/run
func (s *Server) runPipeline(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	var opts pipeline.RunOptions
	if err := s.bind(c, &opts); err != nil {
		return err
	}
	e, err := s.app.Pipelines.Run(p.ID, auth.Actor(c), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, e)
}

// listPipelineExecutions handles GET /api/v1/pipelines/:id/executions
func (s *Server) listPipelineExecutions(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	filter, err := executionFilter(c)
	if err != nil {
		return err
	}
	filter.PipelineID = p.ID
	executions, err := s.app.Store.ListExecutions(filter)
	if err != nil {
		return InternalError("Failed to list executions", err.Error())
	}
	return c.JSON(http.StatusOK, listResponse(c, executions))
}

// listPipelineSchedules handles GET /api/v1/pipelines/:id/schedules
func (s *Server) listPipelineSchedules(c echo.Context) error {
	p, err := s.loadPipeline(c)
	if err != nil {
		return err
	}
	schedules, err := s.app.Store.ListSchedulesForPipeline(p.ID)
	if err != nil {
		return InternalError("Failed to list schedules", err.Error())
	}
	return c.JSON(http.StatusOK, listResponse(c, scheduleResponses(schedules, time.Now())))
}

// attachment builds a Content-Disposition header for a download named after
// a record.
func attachment(name, ext string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
	if safe == "" {
		safe = "download"
	}
	return `attachment; filename="` + safe + ext + `"`
}
