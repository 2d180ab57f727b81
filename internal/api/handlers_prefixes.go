package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/models"
)

// PrefixRequest creates or updates a namespace prefix
type PrefixRequest struct {
	Name string `json:"name" validate:"required,prefixname"`
	URI  string `json:"uri" validate:"required,absiri"`
}

// listPrefixes handles GET /api/v1/prefixes
func (s *Server) listPrefixes(c echo.Context) error {
	prefixes, err := s.app.Store.ListPrefixes()
	if err != nil {
		return InternalError("Failed to list prefixes", err.Error())
	}
	return c.JSON(http.StatusOK, listResponse(c, prefixes))
}

// createPrefix handles POST /api/v1/prefixes
func (s *Server) createPrefix(c echo.Context) error {
	var req PrefixRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	prefix := models.NewNamespacePrefix(strings.TrimSpace(req.Name), strings.TrimSpace(req.URI))
	if err := s.app.Store.SavePrefix(prefix); err != nil {
		return err
	}

	s.logger.Infof("Prefix %s: <%s> created by %s", prefix.Name, prefix.URI, auth.Actor(c))
	return c.JSON(http.StatusCreated, prefix)
}

// updatePrefix handles PUT /api/v1/prefixes/:name. Only the namespace IRI
// can change; the name identifies the prefix.
func (s *Server) updatePrefix(c echo.Context) error {
	prefix, err := s.app.Store.GetPrefixByName(c.Param("name"))
	if err != nil {
		return err
	}

	var req PrefixRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.Name != prefix.Name {
		return BadRequestError("Invalid request", "prefix name cannot be changed")
	}

	prefix.URI = strings.TrimSpace(req.URI)
	if err := s.app.Store.SavePrefix(prefix); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prefix)
}

// deletePrefix handles DELETE /api/v1/prefixes/:name
func (s *Server) deletePrefix(c echo.Context) error {
	prefix, err := s.app.Store.GetPrefixByName(c.Param("name"))
	if err != nil {
		return err
	}
	if err := s.app.Store.DeletePrefix(prefix.ID); err != nil {
		return err
	}

	s.logger.Infof("Prefix %s deleted by %s", prefix.Name, auth.Actor(c))
	return c.JSON(http.StatusOK, MessageResponse{Message: "prefix deleted", ID: prefix.ID})
}
