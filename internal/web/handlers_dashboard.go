package web

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/cleanup"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

type dashboardData struct {
	Stats   *storage.Statistics
	Recent  []*models.Execution
	Cleanup cleanup.Status
	Health  map[string]string
}

// Dashboard renders the overview page.
func (h *Handler) Dashboard(c echo.Context) error {
	stats, err := h.app.Store.GetStatistics()
	if err != nil {
		h.logger.Errorf("Failed to load statistics: %v", err)
		return h.fail(c, http.StatusInternalServerError, "Failed to load statistics")
	}
	recent, err := h.app.Store.ListExecutions(storage.ExecutionFilter{Limit: 10})
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load executions")
	}

	health := make(map[string]string)
	for name, err := range h.app.Ping(c.Request().Context()) {
		health[name] = "ok"
		if err != nil {
			health[name] = err.Error()
		}
	}

	return h.render(c, "dashboard", "Dashboard", dashboardData{
		Stats:   stats,
		Recent:  recent,
		Cleanup: h.app.Deleter.Status(),
		Health:  health,
	})
}
