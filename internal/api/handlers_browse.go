package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/browse"
	"evalgo.org/unifiedviews/internal/sparql"
	"evalgo.org/unifiedviews/models"
)

// DataUnitResponse is a data unit of an execution with its position.
type DataUnitResponse struct {
	Index int `json:"index"`
	models.DataUnitInfo
	Browsable bool `json:"browsable"`
}

// CountResponse is the size of a query result.
type CountResponse struct {
	Count int `json:"count"`
}

// QueryResponse is a rendered canned query.
type QueryResponse struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// browseRequest binds the query body and the data unit of the path.
func (s *Server) browseRequest(c echo.Context) (browse.Request, error) {
	var req browse.Request
	if _, err := s.loadExecution(c); err != nil {
		return req, err
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return req, BadRequestError("Invalid data unit index", c.Param("index"))
	}
	if err := s.bind(c, &req); err != nil {
		return req, err
	}
	req.ExecutionID = c.Param("id")
	req.DataUnit = index
	return req, nil
}

// listDataUnits handles GET /api/v1/executions/:id/dataunits
func (s *Server) listDataUnits(c echo.Context) error {
	e, err := s.loadExecution(c)
	if err != nil {
		return err
	}
	units := make([]DataUnitResponse, 0, len(e.DataUnits))
	for i, du := range e.DataUnits {
		units = append(units, DataUnitResponse{Index: i, DataUnitInfo: du, Browsable: du.Type == models.DataUnitRDF})
	}
	return c.JSON(http.StatusOK, listResponse(c, units))
}

// queryDataUnit handles POST /api/v1/executions/:id/dataunits/:index/query
func (s *Server) queryDataUnit(c echo.Context) error {
	req, err := s.browseRequest(c)
	if err != nil {
		return err
	}
	table, err := s.app.Browse.Page(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, table)
}

// countDataUnit handles POST /api/v1/executions/:id/dataunits/:index/count
func (s *Server) countDataUnit(c echo.Context) error {
	req, err := s.browseRequest(c)
	if err != nil {
		return err
	}
	n, err := s.app.Browse.Count(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CountResponse{Count: n})
}

// exportDataUnit handles POST /api/v1/executions/:id/dataunits/:index/export?format=
//
// The result is serialized into memory first so a failing query still
// produces a JSON error instead of a truncated download.
func (s *Server) exportDataUnit(c echo.Context) error {
	req, err := s.browseRequest(c)
	if err != nil {
		return err
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
		return BadRequestError("Unknown export format", string(format))
	}

	var buf bytes.Buffer
	if err := s.app.Browse.Export(c.Request().Context(), req, format, &buf); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, attachment("dataunit-"+strconv.Itoa(req.DataUnit), info.Extension))
	return c.Blob(http.StatusOK, info.MIMEType, buf.Bytes())
}

// listCannedQueries handles GET /api/v1/queries
func (s *Server) listCannedQueries(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Browse.CannedQueries())
}

// prepareCannedQuery handles POST /api/v1/queries/:name
//
// The body maps template parameters to IRIs.
func (s *Server) prepareCannedQuery(c echo.Context) error {
	params := map[string]string{}
	if c.Request().ContentLength != 0 {
		if err := json.NewDecoder(c.Request().Body).Decode(&params); err != nil {
			return BadRequestError("Invalid request body", err.Error())
		}
	}
	q, err := s.app.Browse.CannedQuery(c.Param("name"), params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, QueryResponse{Name: c.Param("name"), Query: q})
}
