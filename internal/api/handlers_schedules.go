package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/scheduler"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

// ScheduleRequest creates or replaces a schedule
type ScheduleRequest struct {
	PipelineID             string              `json:"pipelineId" validate:"required"`
	Description            string              `json:"description,omitempty"`
	ScheduleType           models.ScheduleType `json:"scheduleType" validate:"required"`
	Enabled                *bool               `json:"enabled,omitempty"`
	JustOnce               bool                `json:"justOnce"`
	FirstExecution         *time.Time          `json:"firstExecution,omitempty"`
	Period                 string              `json:"period,omitempty" validate:"omitempty,schedulerule"`
	AfterPipelines         []string            `json:"afterPipelines,omitempty"`
	StrictlyTimed          bool                `json:"strictlyTimed"`
	StrictToleranceMinutes int                 `json:"strictToleranceMinutes,omitempty" validate:"gte=0"`
	Priority               int                 `json:"priority"`
}

// ScheduleResponse is a schedule with its next periodic run.
type ScheduleResponse struct {
	*models.Schedule
	NextRun *time.Time `json:"nextRun,omitempty"`
}

func scheduleResponse(sched *models.Schedule, now time.Time) ScheduleResponse {
	resp := ScheduleResponse{Schedule: sched}
	if next, ok := scheduler.NextRun(sched, now); ok {
		resp.NextRun = &next
	}
	return resp
}

func scheduleResponses(schedules []*models.Schedule, now time.Time) []ScheduleResponse {
	out := make([]ScheduleResponse, 0, len(schedules))
	for _, sched := range schedules {
		out = append(out, scheduleResponse(sched, now))
	}
	return out
}

// apply copies the request onto sched.
func (r *ScheduleRequest) apply(sched *models.Schedule) {
	sched.PipelineID = r.PipelineID
	sched.Description = r.Description
	sched.ScheduleType = r.ScheduleType
	if r.Enabled != nil {
		sched.Enabled = *r.Enabled
	}
	sched.JustOnce = r.JustOnce
	sched.FirstExecution = r.FirstExecution
	sched.Period = r.Period
	sched.AfterPipelines = r.AfterPipelines
	sched.StrictlyTimed = r.StrictlyTimed
	sched.StrictToleranceMinutes = r.StrictToleranceMinutes
	sched.Priority = r.Priority
	sched.UpdatedAt = time.Now()
}

// saveSchedule checks the schedule rules and that every referenced pipeline
// exists and is visible before storing it.
func (s *Server) saveSchedule(c echo.Context, sched *models.Schedule) error {
	if res := s.app.Validator.ValidateSchedule(sched); !res.Valid {
		return validationFailed(res)
	}
	for _, id := range append([]string{sched.PipelineID}, sched.AfterPipelines...) {
		p, err := s.app.Store.GetPipeline(id)
		if err != nil || !auth.Visible(c, p.Owner, p.Visibility) {
			return BadRequestError("Unknown pipeline", id)
		}
	}
	return s.app.Store.SaveSchedule(sched)
}

// loadSchedule fetches a schedule; only its owner and admins may change it.
func (s *Server) loadSchedule(c echo.Context, write bool) (*models.Schedule, error) {
	sched, err := s.app.Store.GetSchedule(c.Param("id"))
	if err != nil {
		return nil, err
	}
	if write && !auth.Owns(c, sched.Owner) {
		return nil, forbidden("Schedule", sched.ID)
	}
	return sched, nil
}

// listSchedules handles GET /api/v1/schedules
func (s *Server) listSchedules(c echo.Context) error {
	filter := storage.ScheduleFilter{
		PipelineID:  c.QueryParam("pipeline"),
		EnabledOnly: c.QueryParam("enabled") == "true",
	}
	schedules, err := s.app.Store.ListSchedules(filter)
	if err != nil {
		return InternalError("Failed to list schedules", err.Error())
	}
	return c.JSON(http.StatusOK, listResponse(c, scheduleResponses(schedules, time.Now())))
}

// createSchedule handles POST /api/v1/schedules
func (s *Server) createSchedule(c echo.Context) error {
	var req ScheduleRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	sched := models.NewSchedule(req.PipelineID, req.ScheduleType, auth.Actor(c))
	req.apply(sched)
	if err := s.saveSchedule(c, sched); err != nil {
		return err
	}
	s.logger.Infof("Schedule %s for pipeline %s created by %s", sched.ID, sched.PipelineID, auth.Actor(c))
	return c.JSON(http.StatusCreated, scheduleResponse(sched, time.Now()))
}

// getSchedule handles GET /api/v1/schedules/:id
func (s *Server) getSchedule(c echo.Context) error {
	sched, err := s.loadSchedule(c, false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scheduleResponse(sched, time.Now()))
}

// updateSchedule handles PUT /api/v1/schedules/:id
func (s *Server) updateSchedule(c echo.Context) error {
	sched, err := s.loadSchedule(c, true)
	if err != nil {
		return err
	}
	var req ScheduleRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	req.apply(sched)
	if err := s.saveSchedule(c, sched); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scheduleResponse(sched, time.Now()))
}

// deleteSchedule handles DELETE /api/v1/schedules/:id
func (s *Server) deleteSchedule(c echo.Context) error {
	sched, err := s.loadSchedule(c, true)
	if err != nil {
		return err
	}
	if err := s.app.Store.DeleteSchedule(sched.ID); err != nil {
		return err
	}
	s.logger.Infof("Schedule %s deleted by %s", sched.ID, auth.Actor(c))
	return c.NoContent(http.StatusNoContent)
}

// enableSchedule handles POST /api/v1/schedules/:id/enable
func (s *Server) enableSchedule(c echo.Context) error {
	return s.setScheduleEnabled(c, true)
}

// disableSchedule handles POST /api/v1/schedules/:id/disable
func (s *Server) disableSchedule(c echo.Context) error {
	return s.setScheduleEnabled(c, false)
}

func (s *Server) setScheduleEnabled(c echo.Context, enabled bool) error {
	sched, err := s.loadSchedule(c, true)
	if err != nil {
		return err
	}
	sched.Enabled = enabled
	sched.UpdatedAt = time.Now()
	if err := s.app.Store.SaveSchedule(sched); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scheduleResponse(sched, time.Now()))
}
