package web

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/pipeline"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

type pipelinesData struct {
	Pipelines []*models.Pipeline
	Query     string
}

type pipelineNodeView struct {
	models.PipelineNode
	Template *models.DPUTemplate
	Wave     int
}

type pipelineDetailData struct {
	Pipeline   *models.Pipeline
	Nodes      []pipelineNodeView
	Edges      []models.PipelineEdge
	Result     *pipeline.Result
	OrderError string
	Executions []*models.Execution
	Schedules  []*models.Schedule
	CanEdit    bool
}

// PipelinesList renders the pipelines page.
func (h *Handler) PipelinesList(c echo.Context) error {
	all, err := h.app.Store.ListPipelines(storage.PipelineFilter{})
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load pipelines")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	data := pipelinesData{Query: q}
	for _, p := range all {
		if !auth.Visible(c, p.Owner, p.Visibility) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(q)) {
			continue
		}
		data.Pipelines = append(data.Pipelines, p)
	}
	return h.render(c, "pipelines", "Pipelines", data)
}

func (h *Handler) loadPipeline(c echo.Context) (*models.Pipeline, error) {
	p, err := h.app.Store.GetPipeline(c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !auth.Visible(c, p.Owner, p.Visibility) {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

// PipelineDetail renders a pipeline with its execution order, executions
// and schedules.
func (h *Handler) PipelineDetail(c echo.Context) error {
	p, err := h.loadPipeline(c)
	if err != nil {
		return h.notFound(c, "Pipeline", err)
	}
	templates, err := h.app.Pipelines.Templates()
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load DPU templates")
	}

	data := pipelineDetailData{
		Pipeline: p,
		Edges:    p.Graph.Edges,
		Result:   pipeline.Validate(p, templates),
		CanEdit:  auth.CanWrite(c) && auth.Owns(c, p.Owner),
	}
	if waves, err := pipeline.Waves(p); err == nil {
		for i, wave := range waves {
			for _, n := range wave {
				data.Nodes = append(data.Nodes, pipelineNodeView{PipelineNode: n, Template: templates[n.TemplateID], Wave: i + 1})
			}
		}
	} else {
		data.OrderError = err.Error()
		for _, n := range p.Graph.Nodes {
			data.Nodes = append(data.Nodes, pipelineNodeView{PipelineNode: n, Template: templates[n.TemplateID]})
		}
	}

	if data.Executions, err = h.app.Store.ListExecutions(storage.ExecutionFilter{PipelineID: p.ID, Limit: 20}); err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load executions")
	}
	if data.Schedules, err = h.app.Store.ListSchedulesForPipeline(p.ID); err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load schedules")
	}
	return h.render(c, "pipelines_detail", p.Name, data)
}

// ExportPipeline downloads a pipeline as YAML.
func (h *Handler) ExportPipeline(c echo.Context) error {
	p, err := h.loadPipeline(c)
	if err != nil {
		return h.notFound(c, "Pipeline", err)
	}
	_, data, err := h.app.Pipelines.Export(p.ID)
	if err != nil {
		return redirectError(c, Prefix+"/pipelines/"+p.ID, "Export failed: "+err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+fileName(p.Name)+`.yaml"`)
	return c.Blob(http.StatusOK, "application/yaml", data)
}

// ImportPipeline creates a pipeline from an uploaded YAML document.
func (h *Handler) ImportPipeline(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return redirectError(c, Prefix+"/pipelines", "Choose a pipeline YAML file to import")
	}
	f, err := fh.Open()
	if err != nil {
		return redirectError(c, Prefix+"/pipelines", "Failed to read upload")
	}
	defer f.Close()
	doc, err := io.ReadAll(f)
	if err != nil {
		return redirectError(c, Prefix+"/pipelines", "Failed to read upload")
	}

	p, _, err := h.app.Pipelines.Import(doc, auth.Actor(c))
	if err != nil {
		return redirectError(c, Prefix+"/pipelines", "Import failed: "+err.Error())
	}
	h.broadcast("pipeline_changed", map[string]string{"id": p.ID, "action": "created"})
	return redirectOK(c, Prefix+"/pipelines/"+p.ID, "Pipeline "+p.Name+" imported")
}

// CopyPipeline copies a pipeline for the current user.
func (h *Handler) CopyPipeline(c echo.Context) error {
	p, err := h.loadPipeline(c)
	if err != nil {
		return h.notFound(c, "Pipeline", err)
	}
	copied, err := h.app.Pipelines.Copy(p.ID, auth.Actor(c))
	if err != nil {
		return redirectError(c, Prefix+"/pipelines/"+p.ID, "Copy failed: "+err.Error())
	}
	h.broadcast("pipeline_changed", map[string]string{"id": copied.ID, "action": "created"})
	return redirectOK(c, Prefix+"/pipelines/"+copied.ID, "Created "+copied.Name)
}

// RunPipeline queues an execution.
func (h *Handler) RunPipeline(c echo.Context) error {
	p, err := h.loadPipeline(c)
	if err != nil {
		return h.notFound(c, "Pipeline", err)
	}
	opts := pipeline.RunOptions{
		Debug:     c.FormValue("debug") == "on",
		DebugNode: c.FormValue("debugNode"),
	}
	e, err := h.app.Pipelines.Run(p.ID, auth.Actor(c), opts)
	if err != nil {
		return redirectError(c, Prefix+"/pipelines/"+p.ID, "Run failed: "+err.Error())
	}
	return redirectOK(c, Prefix+"/executions/"+e.ID, "Execution queued")
}

// DeletePipeline deletes a pipeline with its schedules and executions.
func (h *Handler) DeletePipeline(c echo.Context) error {
	p, err := h.loadPipeline(c)
	if err != nil {
		return h.notFound(c, "Pipeline", err)
	}
	if !auth.Owns(c, p.Owner) {
		return redirectError(c, Prefix+"/pipelines/"+p.ID, "Only the owner can delete this pipeline")
	}
	if err := h.app.Pipelines.Delete(p.ID, auth.Actor(c)); err != nil {
		if errors.Is(err, pipeline.ErrActive) {
			return redirectError(c, Prefix+"/pipelines/"+p.ID, "The pipeline is running; cancel its executions first")
		}
		return redirectError(c, Prefix+"/pipelines/"+p.ID, "Delete failed: "+err.Error())
	}
	h.broadcast("pipeline_changed", map[string]string{"id": p.ID, "action": "deleted"})
	return redirectOK(c, Prefix+"/pipelines", "Pipeline "+p.Name+" deleted")
}

// notFound renders a 404 page for missing records and a 500 page otherwise.
func (h *Handler) notFound(c echo.Context, what string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return h.fail(c, http.StatusNotFound, what+" not found")
	}
	h.logger.Errorf("Failed to load %s: %v", strings.ToLower(what), err)
	return h.fail(c, http.StatusInternalServerError, "Failed to load "+strings.ToLower(what))
}

// fileName keeps the characters of name that are safe in a download name.
func fileName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
	if safe == "" {
		return "download"
	}
	return safe
}
