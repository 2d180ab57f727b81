package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/dpu"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

// UpdateDPURequest changes the metadata of a template
type UpdateDPURequest struct {
	Name          *string            `json:"name,omitempty" validate:"omitempty,min=1,max=256"`
	Description   *string            `json:"description,omitempty"`
	Configuration *string            `json:"configuration,omitempty"`
	Visibility    *models.Visibility `json:"visibility,omitempty" validate:"omitempty,oneof=private public"`
}

// DeriveDPURequest creates a child template
type DeriveDPURequest struct {
	Name string `json:"name" validate:"required,max=256"`
}

// listDPUTemplates handles GET /api/v1/dpus
func (s *Server) listDPUTemplates(c echo.Context) error {
	filter := storage.DPUFilter{
		Type:     models.DPUType(c.QueryParam("type")),
		ParentID: c.QueryParam("parent"),
		Owner:    c.QueryParam("owner"),
	}
	templates, err := s.app.Store.ListDPUTemplates(filter)
	if err != nil {
		return InternalError("Failed to list DPU templates", err.Error())
	}

	visibleTemplates := make([]*models.DPUTemplate, 0, len(templates))
	for _, t := range templates {
		if auth.Visible(c, t.Owner, t.Visibility) {
			visibleTemplates = append(visibleTemplates, t)
		}
	}
	return c.JSON(http.StatusOK, listResponse(c, visibleTemplates))
}

// getDPUTemplate handles GET /api/v1/dpus/:id
func (s *Server) getDPUTemplate(c echo.Context) error {
	tpl, err := s.app.Store.GetDPUTemplate(c.Param("id"))
	if err != nil {
		return err
	}
	if !auth.Visible(c, tpl.Owner, tpl.Visibility) {
		return NotFoundError("DPU template", tpl.ID)
	}
	return c.JSON(http.StatusOK, tpl)
}

// upload reads the multipart "file" field and the template fields.
func upload(c echo.Context) (dpu.Upload, func(), error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return dpu.Upload{}, nil, BadRequestError("Missing file", "multipart field 'file' is required")
	}
	f, err := fh.Open()
	if err != nil {
		return dpu.Upload{}, nil, InternalError("Failed to read upload", err.Error())
	}
	visibility := models.Visibility(c.FormValue("visibility"))
	if visibility == "" {
		visibility = models.VisibilityPrivate
	}
	return dpu.Upload{
		Filename:    fh.Filename,
		Content:     f,
		Type:        models.DPUType(c.FormValue("type")),
		Description: c.FormValue("description"),
		Visibility:  visibility,
		Owner:       auth.Actor(c),
	}, func() { _ = f.Close() }, nil
}

// uploadDPU handles POST /api/v1/dpus (multipart: file, type, description, visibility)
func (s *Server) uploadDPU(c echo.Context) error {
	up, closeFn, err := upload(c)
	if err != nil {
		return err
	}
	defer closeFn()

	templates, err := s.app.Importer.Import(c.Request().Context(), up)
	if err != nil {
		return err
	}

	s.logger.Infof("%s uploaded %s: %d template(s)", up.Owner, up.Filename, len(templates))
	return c.JSON(http.StatusCreated, templates)
}

// updateDPUTemplate handles PUT /api/v1/dpus/:id
func (s *Server) updateDPUTemplate(c echo.Context) error {
	tpl, err := s.app.Store.GetDPUTemplate(c.Param("id"))
	if err != nil {
		return err
	}
	if !auth.Owns(c, tpl.Owner) {
		return forbidden("DPU template", tpl.ID)
	}

	var req UpdateDPURequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.Name != nil {
		tpl.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		tpl.Description = *req.Description
	}
	if req.Configuration != nil {
		tpl.Configuration = *req.Configuration
	}
	if req.Visibility != nil {
		tpl.Visibility = *req.Visibility
	}
	tpl.UpdatedAt = time.Now()

	if err := s.app.Store.SaveDPUTemplate(tpl); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tpl)
}

// replaceDPUJar handles POST /api/v1/dpus/:id/jar (multipart: file)
func (s *Server) replaceDPUJar(c echo.Context) error {
	current, err := s.app.Store.GetDPUTemplate(c.Param("id"))
	if err != nil {
		return err
	}
	if !auth.Owns(c, current.Owner) {
		return forbidden("DPU template", current.ID)
	}

	up, closeFn, err := upload(c)
	if err != nil {
		return err
	}
	defer closeFn()

	tpl, err := s.app.Importer.Replace(c.Request().Context(), current.ID, up)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tpl)
}

// createChildTemplate handles POST /api/v1/dpus/:id/children
func (s *Server) createChildTemplate(c echo.Context) error {
	var req DeriveDPURequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	child, err := s.app.Importer.Derive(c.Param("id"), req.Name, auth.Actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, child)
}

// deleteDPUTemplate handles DELETE /api/v1/dpus/:id
func (s *Server) deleteDPUTemplate(c echo.Context) error {
	tpl, err := s.app.Store.GetDPUTemplate(c.Param("id"))
	if err != nil {
		return err
	}
	if !auth.Owns(c, tpl.Owner) {
		return forbidden("DPU template", tpl.ID)
	}
	if err := s.app.Importer.Delete(c.Request().Context(), tpl.ID); err != nil {
		return err
	}

	s.logger.Infof("DPU template %s deleted by %s", tpl.Name, auth.Actor(c))
	return c.JSON(http.StatusOK, MessageResponse{Message: "DPU template deleted", ID: tpl.ID})
}

// listMissingJars handles GET /api/v1/dpus/missing
func (s *Server) listMissingJars(c echo.Context) error {
	missing, err := s.app.Importer.Missing()
	if err != nil {
		return InternalError("Failed to check DPU library", err.Error())
	}
	return c.JSON(http.StatusOK, listResponse(c, missing))
}
