package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/scheduler"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/internal/validation"
	"evalgo.org/unifiedviews/models"
)

type scheduleView struct {
	*models.Schedule
	PipelineName string
	After        []string
	NextRun      *time.Time
	CanEdit      bool
}

type schedulesData struct {
	Schedules []scheduleView
	Pipelines []*models.Pipeline
}

type usersData struct {
	Users []*models.User
	Roles []models.Role
}

// SchedulesList renders the schedules page and the new schedule form.
func (h *Handler) SchedulesList(c echo.Context) error {
	schedules, err := h.app.Store.ListSchedules(storage.ScheduleFilter{PipelineID: c.QueryParam("pipeline")})
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load schedules")
	}
	all, err := h.app.Store.ListPipelines(storage.PipelineFilter{})
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load pipelines")
	}

	names := make(map[string]string, len(all))
	var data schedulesData
	for _, p := range all {
		if auth.Visible(c, p.Owner, p.Visibility) {
			names[p.ID] = p.Name
			data.Pipelines = append(data.Pipelines, p)
		}
	}

	now := time.Now()
	for _, s := range schedules {
		name, ok := names[s.PipelineID]
		if !ok && !auth.Owns(c, s.Owner) {
			continue
		}
		v := scheduleView{Schedule: s, PipelineName: name, CanEdit: auth.CanWrite(c) && auth.Owns(c, s.Owner)}
		for _, id := range s.AfterPipelines {
			if n, ok := names[id]; ok {
				v.After = append(v.After, n)
			} else {
				v.After = append(v.After, id)
			}
		}
		if next, ok := scheduler.NextRun(s, now); ok {
			v.NextRun = &next
		}
		data.Schedules = append(data.Schedules, v)
	}
	return h.render(c, "schedules", "Schedules", data)
}

// CreateSchedule creates a schedule from the form.
func (h *Handler) CreateSchedule(c echo.Context) error {
	path := Prefix + "/schedules"
	sched := models.NewSchedule(c.FormValue("pipeline"), models.ScheduleType(c.FormValue("type")), auth.Actor(c))
	sched.Description = strings.TrimSpace(c.FormValue("description"))
	sched.JustOnce = c.FormValue("justOnce") == "on"
	sched.StrictlyTimed = c.FormValue("strictlyTimed") == "on"

	switch sched.ScheduleType {
	case models.SchedulePeriodically:
		sched.Period = strings.TrimSpace(c.FormValue("period"))
		if first := c.FormValue("firstExecution"); first != "" {
			t, err := time.ParseInLocation("2006-01-02T15:04", first, time.Local)
			if err != nil {
				return redirectError(c, path, "Enter the first execution as date and time")
			}
			sched.FirstExecution = &t
		}
	case models.ScheduleAfterPipeline:
		sched.AfterPipelines = c.Request().Form["after"]
	}
	if tol := c.FormValue("tolerance"); tol != "" {
		n, err := strconv.Atoi(tol)
		if err != nil || n < 0 {
			return redirectError(c, path, "Tolerance must be a number of minutes")
		}
		sched.StrictToleranceMinutes = n
	}

	if res := h.app.Validator.ValidateSchedule(sched); !res.Valid {
		return redirectError(c, path, firstError(res))
	}
	for _, id := range append([]string{sched.PipelineID}, sched.AfterPipelines...) {
		p, err := h.app.Store.GetPipeline(id)
		if err != nil || !auth.Visible(c, p.Owner, p.Visibility) {
			return redirectError(c, path, "Unknown pipeline "+id)
		}
	}
	if err := h.app.Store.SaveSchedule(sched); err != nil {
		return redirectError(c, path, "Failed to save schedule: "+err.Error())
	}
	h.logger.Infof("Schedule %s for pipeline %s created by %s", sched.ID, sched.PipelineID, auth.Actor(c))
	return redirectOK(c, path, "Schedule created")
}

func (h *Handler) ownSchedule(c echo.Context) (*models.Schedule, error) {
	sched, err := h.app.Store.GetSchedule(c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !auth.Owns(c, sched.Owner) {
		return nil, storage.ErrNotFound
	}
	return sched, nil
}

// EnableSchedule enables a schedule.
func (h *Handler) EnableSchedule(c echo.Context) error {
	return h.setScheduleEnabled(c, true)
}

// DisableSchedule disables a schedule.
func (h *Handler) DisableSchedule(c echo.Context) error {
	return h.setScheduleEnabled(c, false)
}

func (h *Handler) setScheduleEnabled(c echo.Context, enabled bool) error {
	sched, err := h.ownSchedule(c)
	if err != nil {
		return redirectError(c, back(c), "Schedule not found")
	}
	sched.Enabled = enabled
	sched.UpdatedAt = time.Now()
	if err := h.app.Store.SaveSchedule(sched); err != nil {
		return redirectError(c, back(c), "Failed to save schedule: "+err.Error())
	}
	if enabled {
		return redirectOK(c, back(c), "Schedule enabled")
	}
	return redirectOK(c, back(c), "Schedule disabled")
}

// DeleteSchedule deletes a schedule.
func (h *Handler) DeleteSchedule(c echo.Context) error {
	sched, err := h.ownSchedule(c)
	if err != nil {
		return redirectError(c, back(c), "Schedule not found")
	}
	if err := h.app.Store.DeleteSchedule(sched.ID); err != nil {
		return redirectError(c, back(c), "Failed to delete schedule: "+err.Error())
	}
	h.logger.Infof("Schedule %s deleted by %s", sched.ID, auth.Actor(c))
	return redirectOK(c, back(c), "Schedule deleted")
}

// PrefixesList renders the namespace prefixes page.
func (h *Handler) PrefixesList(c echo.Context) error {
	prefixes, err := h.app.Store.ListPrefixes()
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load prefixes")
	}
	return h.render(c, "prefixes", "Namespace prefixes", prefixes)
}

// CreatePrefix adds a namespace prefix.
func (h *Handler) CreatePrefix(c echo.Context) error {
	path := Prefix + "/prefixes"
	prefix := models.NewNamespacePrefix(strings.TrimSpace(c.FormValue("name")), strings.TrimSpace(c.FormValue("uri")))
	if res := h.app.Validator.ValidatePrefix(prefix); !res.Valid {
		return redirectError(c, path, firstError(res))
	}
	if err := h.app.Store.SavePrefix(prefix); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return redirectError(c, path, "Prefix "+prefix.Name+" already exists")
		}
		return redirectError(c, path, "Failed to save prefix: "+err.Error())
	}
	h.logger.Infof("Prefix %s: <%s> created by %s", prefix.Name, prefix.URI, auth.Actor(c))
	return redirectOK(c, path, "Prefix "+prefix.Name+" added")
}

// DeletePrefix removes a namespace prefix.
func (h *Handler) DeletePrefix(c echo.Context) error {
	path := Prefix + "/prefixes"
	prefix, err := h.app.Store.GetPrefixByName(c.Param("name"))
	if err != nil {
		return redirectError(c, path, "Prefix not found")
	}
	if err := h.app.Store.DeletePrefix(prefix.ID); err != nil {
		return redirectError(c, path, "Failed to delete prefix: "+err.Error())
	}
	h.logger.Infof("Prefix %s deleted by %s", prefix.Name, auth.Actor(c))
	return redirectOK(c, path, "Prefix "+prefix.Name+" deleted")
}

// UsersList renders the user administration page.
func (h *Handler) UsersList(c echo.Context) error {
	users, err := h.app.Store.ListUsers()
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "Failed to load users")
	}
	return h.render(c, "users", "Users", usersData{
		Users: users,
		Roles: []models.Role{models.RoleAdmin, models.RoleUser, models.RoleViewer},
	})
}

// CreateUser adds a user account.
func (h *Handler) CreateUser(c echo.Context) error {
	path := Prefix + "/users"
	username := strings.TrimSpace(c.FormValue("username"))
	password := c.FormValue("password")
	role := c.FormValue("role")
	switch {
	case len(username) < 3:
		return redirectError(c, path, "Username must have at least 3 characters")
	case len(password) < 8:
		return redirectError(c, path, "Password must have at least 8 characters")
	case role != models.RoleAdmin && role != models.RoleUser && role != models.RoleViewer:
		return redirectError(c, path, "Unknown role "+role)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return redirectError(c, path, "Failed to hash password")
	}
	user := models.NewUser(username, role)
	user.FullName = strings.TrimSpace(c.FormValue("name"))
	user.Email = strings.TrimSpace(c.FormValue("email"))
	user.PasswordHash = hash
	if err := h.app.Store.SaveUser(user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return redirectError(c, path, "User "+username+" already exists")
		}
		return redirectError(c, path, "Failed to save user: "+err.Error())
	}
	h.logger.Infof("User %s created by %s", user.Username, auth.Actor(c))
	return redirectOK(c, path, "User "+username+" created")
}

// DeleteUser removes a user account other than the caller's own.
func (h *Handler) DeleteUser(c echo.Context) error {
	path := Prefix + "/users"
	user, err := h.app.Store.GetUser(c.Param("id"))
	if err != nil {
		return redirectError(c, path, "User not found")
	}
	if user.Username == auth.Actor(c) {
		return redirectError(c, path, "You cannot delete your own account")
	}
	if err := h.app.Store.DeleteUser(user.ID); err != nil {
		return redirectError(c, path, "Failed to delete user: "+err.Error())
	}
	h.logger.Infof("User %s deleted by %s", user.Username, auth.Actor(c))
	return redirectOK(c, path, "User "+user.Username+" deleted")
}

// firstError returns the first message of an invalid result.
func firstError(res *validation.ValidationResult) string {
	if len(res.Errors) == 0 {
		return "Invalid input"
	}
	return res.Errors[0].Message
}
