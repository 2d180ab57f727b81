package web

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/dpu"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

type dpusData struct {
	Templates []*models.DPUTemplate
	Type      models.DPUType
	Types     []models.DPUType
	Missing   map[string]bool
}

type dpuDetailData struct {
	Template  *models.DPUTemplate
	Parent    *models.DPUTemplate
	Children  []*models.DPUTemplate
	Pipelines []*models.Pipeline
	CanEdit   bool
}

// DPUsList renders the DPU templates page.
func (h *Handler) DPUsList(c echo.Context) error {
	filterType := models.DPUType(c.QueryParam("type"))
	if !filterType.Valid() {
		filterType = ""
	}
	all, err := h.app.Store.ListDPUTemplates(storage.DPUFilter{Type: filterType})
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load DPU templates")
	}
	data := dpusData{Type: filterType, Types: models.DPUTypes, Missing: map[string]bool{}}
	for _, t := range all {
		if auth.Visible(c, t.Owner, t.Visibility) {
			data.Templates = append(data.Templates, t)
		}
	}
	if auth.IsAdmin(c) {
		missing, err := h.app.Importer.Missing()
		if err != nil {
			h.logger.Warnf("Failed to check DPU library: %v", err)
		}
		for _, t := range missing {
			data.Missing[t.ID] = true
		}
	}
	return h.render(c, "dpus", "DPU templates", data)
}

// DPUDetail renders one template.
func (h *Handler) DPUDetail(c echo.Context) error {
	t, err := h.app.Store.GetDPUTemplate(c.Param("id"))
	if err == nil && !auth.Visible(c, t.Owner, t.Visibility) {
		err = storage.ErrNotFound
	}
	if err != nil {
		return h.notFound(c, "DPU template", err)
	}
	data := dpuDetailData{Template: t, CanEdit: auth.CanWrite(c) && auth.Owns(c, t.Owner)}
	if t.ParentID != "" {
		data.Parent, _ = h.app.Store.GetDPUTemplate(t.ParentID)
	}
	if data.Children, err = h.app.Store.ListDPUTemplates(storage.DPUFilter{ParentID: t.ID}); err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load child templates")
	}
	if data.Pipelines, err = h.app.Store.ListPipelinesUsingTemplate(t.ID); err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load pipelines")
	}
	return h.render(c, "dpus_detail", t.Name, data)
}

// UploadDPU installs the templates of an uploaded JAR or ZIP.
func (h *Handler) UploadDPU(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return redirectError(c, Prefix+"/dpus", "Choose a JAR or ZIP file to upload")
	}
	f, err := fh.Open()
	if err != nil {
		return redirectError(c, Prefix+"/dpus", "Failed to read upload")
	}
	defer f.Close()

	visibility := models.Visibility(c.FormValue("visibility"))
	if visibility != models.VisibilityPublic {
		visibility = models.VisibilityPrivate
	}
	templates, err := h.app.Importer.Import(c.Request().Context(), dpu.Upload{
		Filename:    fh.Filename,
		Content:     f,
		Type:        models.DPUType(c.FormValue("type")),
		Description: c.FormValue("description"),
		Visibility:  visibility,
		Owner:       auth.Actor(c),
	})
	if err != nil {
		return redirectError(c, Prefix+"/dpus", "Upload failed: "+err.Error())
	}
	h.broadcast("dpu_library_changed", map[string]interface{}{"action": "installed", "count": len(templates)})
	if len(templates) == 1 {
		return redirectOK(c, Prefix+"/dpus/"+templates[0].ID, "Installed "+templates[0].Name)
	}
	return redirectOK(c, Prefix+"/dpus", "Installed "+plural(len(templates), "template"))
}

// DeleteDPU removes a template that no pipeline uses.
func (h *Handler) DeleteDPU(c echo.Context) error {
	t, err := h.app.Store.GetDPUTemplate(c.Param("id"))
	if err != nil {
		return h.notFound(c, "DPU template", err)
	}
	if !auth.Owns(c, t.Owner) {
		return redirectError(c, Prefix+"/dpus/"+t.ID, "Only the owner can delete this template")
	}
	if err := h.app.Importer.Delete(c.Request().Context(), t.ID); err != nil {
		if errors.Is(err, dpu.ErrTemplateInUse) {
			return redirectError(c, Prefix+"/dpus/"+t.ID, err.Error())
		}
		return redirectError(c, Prefix+"/dpus/"+t.ID, "Delete failed: "+err.Error())
	}
	return redirectOK(c, Prefix+"/dpus", "Template "+t.Name+" deleted")
}
