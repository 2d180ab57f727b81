package web

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/browse"
	"evalgo.org/unifiedviews/internal/cleanup"
	"evalgo.org/unifiedviews/internal/sparql"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

type executionsData struct {
	Executions []*models.Execution
	Pipelines  map[string]string
	Status     string
	Statuses   []models.ExecutionStatus
	Cleanup    cleanup.Status
	Before     string
}

type dataUnitView struct {
	Index int
	models.DataUnitInfo
	Browsable bool
}

type executionDetailData struct {
	Execution *models.Execution
	Pipeline  *models.Pipeline
	DataUnits []dataUnitView
	CanEdit   bool
}

type browseData struct {
	Execution  *models.Execution
	DataUnit   *browse.DataUnit
	Query      string
	Filters    []string
	Table      *browse.Table
	Error      string
	Canned     []string
	Formats    []browse.FormatInfo
	Offset     int
	Limit      int
	Count      bool
	PrevURL    string
	NextURL    string
	ExportBase string
}

var statuses = []models.ExecutionStatus{
	models.ExecutionQueued, models.ExecutionRunning, models.ExecutionCancelling, models.ExecutionCancelled,
	models.ExecutionFailed, models.ExecutionFinishedSuccess, models.ExecutionFinishedWarning,
}

// ExecutionsList renders the executions page with the cleanup form.
func (h *Handler) ExecutionsList(c echo.Context) error {
	filter := storage.ExecutionFilter{PipelineID: c.QueryParam("pipeline"), Limit: 200}
	status := c.QueryParam("status")
	if status != "" {
		filter.Status = []models.ExecutionStatus{models.ExecutionStatus(status)}
	}
	executions, err := h.app.Store.ListExecutions(filter)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load executions")
	}
	pipelines, err := h.app.Store.ListPipelines(storage.PipelineFilter{})
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load pipelines")
	}

	data := executionsData{
		Pipelines: make(map[string]string, len(pipelines)),
		Status:    status,
		Statuses:  statuses,
		Cleanup:   h.app.Deleter.Status(),
		Before:    time.Now().AddDate(0, -1, 0).Format("2006-01-02"),
	}
	visible := make(map[string]bool, len(pipelines))
	for _, p := range pipelines {
		data.Pipelines[p.ID] = p.Name
		visible[p.ID] = auth.Visible(c, p.Owner, p.Visibility)
	}
	for _, e := range executions {
		if visible[e.PipelineID] || auth.Owns(c, e.Owner) {
			data.Executions = append(data.Executions, e)
		}
	}
	return h.render(c, "executions", "Executions", data)
}

func (h *Handler) loadExecution(c echo.Context) (*models.Execution, *models.Pipeline, error) {
	e, err := h.app.Store.GetExecution(c.Param("id"))
	if err != nil {
		return nil, nil, err
	}
	p, err := h.app.Store.GetPipeline(e.PipelineID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, err
	}
	if p != nil && auth.Visible(c, p.Owner, p.Visibility) || auth.Owns(c, e.Owner) {
		return e, p, nil
	}
	return nil, nil, storage.ErrNotFound
}

// ExecutionDetail renders an execution and its data units.
func (h *Handler) ExecutionDetail(c echo.Context) error {
	e, p, err := h.loadExecution(c)
	if err != nil {
		return h.notFound(c, "Execution", err)
	}
	data := executionDetailData{Execution: e, Pipeline: p, CanEdit: auth.CanWrite(c) && auth.Owns(c, e.Owner)}
	for i, du := range e.DataUnits {
		data.DataUnits = append(data.DataUnits, dataUnitView{Index: i, DataUnitInfo: du, Browsable: du.Type == models.DataUnitRDF})
	}
	return h.render(c, "executions_detail", "Execution", data)
}

// CancelExecution cancels a queued or running execution.
func (h *Handler) CancelExecution(c echo.Context) error {
	e, _, err := h.loadExecution(c)
	if err != nil {
		return h.notFound(c, "Execution", err)
	}
	path := Prefix + "/executions/" + e.ID
	if !auth.Owns(c, e.Owner) {
		return redirectError(c, path, "Only the owner can cancel this execution")
	}
	if !e.CanCancel() {
		return redirectError(c, path, "The execution is "+string(e.Status)+" and cannot be cancelled")
	}
	e.Cancel()
	if err := h.app.Store.SaveExecution(e); err != nil {
		return redirectError(c, path, "Cancel failed: "+err.Error())
	}
	return redirectOK(c, path, "Execution cancelled")
}

// DeleteExecution deletes one finished execution.
func (h *Handler) DeleteExecution(c echo.Context) error {
	e, _, err := h.loadExecution(c)
	if err != nil {
		return h.notFound(c, "Execution", err)
	}
	if !auth.Owns(c, e.Owner) {
		return redirectError(c, Prefix+"/executions/"+e.ID, "Only the owner can delete this execution")
	}
	if err := h.app.Deleter.Delete(auth.Actor(c), e.ID); err != nil {
		if errors.Is(err, cleanup.ErrNotFinished) {
			return redirectError(c, Prefix+"/executions/"+e.ID, "Only finished executions can be deleted")
		}
		return redirectError(c, Prefix+"/executions/"+e.ID, "Delete failed: "+err.Error())
	}
	return redirectOK(c, Prefix+"/executions", "Execution deleted")
}

// StartCleanup starts deleting finished executions created before a date.
// Progress is pushed to the page over the event stream.
func (h *Handler) StartCleanup(c echo.Context) error {
	before, err := time.ParseInLocation("2006-01-02", c.FormValue("before"), time.Local)
	if err != nil {
		return redirectError(c, Prefix+"/executions", "Enter the date as YYYY-MM-DD")
	}
	st, err := h.app.Deleter.Start(auth.Actor(c), cleanup.Request{Before: before, PipelineID: c.FormValue("pipeline")})
	if err != nil {
		if errors.Is(err, cleanup.ErrBusy) {
			return redirectError(c, Prefix+"/executions", "A cleanup is already running")
		}
		return redirectError(c, Prefix+"/executions", "Cleanup failed: "+err.Error())
	}
	return redirectOK(c, Prefix+"/executions", "Deleting executions created before "+before.Format("2006-01-02")+" (job "+st.JobID+")")
}

// browseRequest reads the query form of the browse page.
func (h *Handler) browseRequest(c echo.Context) (browse.Request, []string, error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return browse.Request{}, nil, browse.ErrDataUnitNotFound
	}
	req := browse.Request{
		ExecutionID: c.Param("id"),
		DataUnit:    index,
		Query:       strings.TrimSpace(c.QueryParam("query")),
		Count:       c.QueryParam("count") == "1",
	}
	if name := c.QueryParam("canned"); name != "" {
		iri := c.QueryParam("iri")
		if req.Query, err = h.app.Browse.CannedQuery(name, map[string]string{"Class": iri, "Resource": iri}); err != nil {
			return req, nil, err
		}
	}
	if req.Query == "" {
		req.Query = browse.DefaultQuery
	}
	req.Offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if req.Offset < 0 {
		req.Offset = 0
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	req.Limit = h.app.Browse.PageSize(limit)

	var raw []string
	for _, expr := range c.QueryParams()["filter"] {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		f, err := sparql.ParseFilter(expr)
		if err != nil {
			return req, nil, err
		}
		req.Filters = append(req.Filters, f)
		raw = append(raw, expr)
	}
	return req, raw, nil
}

// browseURL builds the browse page URL for req at offset.
func browseURL(base string, req browse.Request, filters []string, offset int) string {
	q := url.Values{}
	q.Set("query", req.Query)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(req.Limit))
	if req.Count {
		q.Set("count", "1")
	}
	for _, f := range filters {
		q.Add("filter", f)
	}
	return base + "?" + q.Encode()
}

// Browse renders one page of a query against an RDF data unit.
func (h *Handler) Browse(c echo.Context) error {
	e, _, err := h.loadExecution(c)
	if err != nil {
		return h.notFound(c, "Execution", err)
	}
	base := Prefix + "/executions/" + e.ID + "/dataunits/" + c.Param("index")
	req, filters, reqErr := h.browseRequest(c)

	du, err := h.app.Browse.Resolve(e.ID, req.DataUnit)
	if err != nil {
		if errors.Is(err, browse.ErrDataUnitNotFound) || errors.Is(err, browse.ErrNotRDF) {
			return redirectError(c, Prefix+"/executions/"+e.ID, err.Error())
		}
		return h.notFound(c, "Data unit", err)
	}

	data := browseData{
		Execution:  e,
		DataUnit:   du,
		Query:      req.Query,
		Filters:    filters,
		Canned:     h.app.Browse.CannedQueries(),
		Offset:     req.Offset,
		Limit:      req.Limit,
		Count:      req.Count,
		ExportBase: browseURL(base+"/export", req, filters, 0),
	}
	if reqErr != nil {
		data.Error = reqErr.Error()
		return h.render(c, "executions_browse", du.Info.Name, data)
	}

	table, err := h.app.Browse.Page(c.Request().Context(), req)
	if err != nil {
		data.Error = err.Error()
		return h.render(c, "executions_browse", du.Info.Name, data)
	}
	data.Table = table
	data.Formats = browse.FormatsFor(table.Type)
	if req.Offset > 0 {
		prev := req.Offset - req.Limit
		if prev < 0 {
			prev = 0
		}
		data.PrevURL = browseURL(base, req, filters, prev)
	}
	if len(table.Rows) == req.Limit && (table.Total < 0 || req.Offset+req.Limit < table.Total) {
		data.NextURL = browseURL(base, req, filters, req.Offset+req.Limit)
	}
	return h.render(c, "executions_browse", du.Info.Name, data)
}

// ExportDataUnit downloads the full result of a browse query.
func (h *Handler) ExportDataUnit(c echo.Context) error {
	e, _, err := h.loadExecution(c)
	if err != nil {
		return h.notFound(c, "Execution", err)
	}
	back := Prefix + "/executions/" + e.ID + "/dataunits/" + c.Param("index")
	req, _, err := h.browseRequest(c)
	if err != nil {
		return redirectError(c, back, err.Error())
	}
	format := browse.Format(c.QueryParam("format"))
	if format == "" {
		format = browse.FormatCSV
		if q, err := sparql.Parse(req.Query); err == nil && q.Type != sparql.Select {
			format = browse.FormatTurtle
		}
	}
	info, ok := browse.Formats[format]
	if !ok {
		return redirectError(c, back, "Unknown export format "+string(format))
	}

	// stream straight to the client; errors after the first byte end the download
	c.Response().Header().Set(echo.HeaderContentType, info.MIMEType)
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="dataunit-`+c.Param("index")+info.Extension+`"`)
	if err := h.app.Browse.Export(c.Request().Context(), req, format, c.Response()); err != nil {
		if c.Response().Committed {
			h.logger.Errorf("Export of %s data unit %d failed: %v", e.ID, req.DataUnit, err)
			return nil
		}
		c.Response().Header().Del(echo.HeaderContentDisposition)
		return redirectError(c, back, "Export failed: "+err.Error())
	}
	return nil
}
