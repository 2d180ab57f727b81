package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// getStatistics handles GET /api/v1/stats
func (s *Server) getStatistics(c echo.Context) error {
	stats, err := s.app.Store.GetStatistics()
	if err != nil {
		return InternalError("Failed to get statistics", err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"totalTemplates":    stats.TotalTemplates,
		"templatesByType":   stats.TemplatesByType,
		"totalPipelines":    stats.TotalPipelines,
		"totalExecutions":   stats.TotalExecutions,
		"executionsByState": stats.ExecutionsByState,
		"runningExecutions": stats.RunningExecutions,
		"failedExecutions":  stats.FailedExecutions,
		"totalSchedules":    stats.TotalSchedules,
		"enabledSchedules":  stats.EnabledSchedules,
		"totalUsers":        stats.TotalUsers,
		"totalPrefixes":     stats.TotalPrefixes,
		"cleanup":           s.app.Deleter.Status(),
	})
}
