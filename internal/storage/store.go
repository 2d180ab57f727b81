package storage

import (
	"context"
	"errors"
	"time"

	"evalgo.org/unifiedviews/models"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a save would violate a uniqueness rule
	// (template name, pipeline name, username, prefix name).
	ErrConflict = errors.New("conflict")
)

// Store is the persistence contract used by every higher layer.
type Store interface {
	SaveDPUTemplate(t *models.DPUTemplate) error
	GetDPUTemplate(id string) (*models.DPUTemplate, error)
	GetDPUTemplateByName(name string) (*models.DPUTemplate, error)
	ListDPUTemplates(filter DPUFilter) ([]*models.DPUTemplate, error)
	DeleteDPUTemplate(id string) error

	SavePipeline(p *models.Pipeline) error
	GetPipeline(id string) (*models.Pipeline, error)
	ListPipelines(filter PipelineFilter) ([]*models.Pipeline, error)
	ListPipelinesUsingTemplate(templateID string) ([]*models.Pipeline, error)
	DeletePipeline(id string) error

	SaveExecution(e *models.Execution) error
	GetExecution(id string) (*models.Execution, error)
	ListExecutions(filter ExecutionFilter) ([]*models.Execution, error)
	DeleteExecution(id string) error
	WatchExecutions(ctx context.Context, handler ExecutionChangeHandler) error

	SaveSchedule(s *models.Schedule) error
	GetSchedule(id string) (*models.Schedule, error)
	ListSchedules(filter ScheduleFilter) ([]*models.Schedule, error)
	ListSchedulesForPipeline(pipelineID string) ([]*models.Schedule, error)
	DeleteSchedule(id string) error

	SaveUser(u *models.User) error
	GetUser(id string) (*models.User, error)
	GetUserByUsername(username string) (*models.User, error)
	ListUsers() ([]*models.User, error)
	DeleteUser(id string) error

	SavePrefix(p *models.NamespacePrefix) error
	GetPrefixByName(name string) (*models.NamespacePrefix, error)
	ListPrefixes() ([]*models.NamespacePrefix, error)
	DeletePrefix(id string) error

	GetStatistics() (*Statistics, error)
	Ping() error
	Close() error
}

// DPUFilter narrows ListDPUTemplates. Zero fields match everything.
type DPUFilter struct {
	Type     models.DPUType
	ParentID string
	Owner    string
}

// PipelineFilter narrows ListPipelines. Zero fields match everything.
type PipelineFilter struct {
	Owner      string
	Visibility models.Visibility
}

// ExecutionFilter narrows ListExecutions. Results are ordered newest first.
type ExecutionFilter struct {
	PipelineID string
	Status     []models.ExecutionStatus

	// Before selects executions created before the instant.
	Before time.Time

	// FinishedOnly selects executions in a terminal state.
	FinishedOnly bool

	Limit int
}

// ScheduleFilter narrows ListSchedules.
type ScheduleFilter struct {
	PipelineID  string
	EnabledOnly bool
}

func (f DPUFilter) match(t *models.DPUTemplate) bool {
	if f.Type != "" && t.DPUType != f.Type {
		return false
	}
	if f.ParentID != "" && t.ParentID != f.ParentID {
		return false
	}
	if f.Owner != "" && t.Owner != f.Owner {
		return false
	}
	return true
}

func (f PipelineFilter) match(p *models.Pipeline) bool {
	if f.Owner != "" && p.Owner != f.Owner {
		return false
	}
	if f.Visibility != "" && p.Visibility != f.Visibility {
		return false
	}
	return true
}

func (f ExecutionFilter) match(e *models.Execution) bool {
	if f.PipelineID != "" && e.PipelineID != f.PipelineID {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Before.IsZero() && !e.CreatedAt.Before(f.Before) {
		return false
	}
	if f.FinishedOnly && !e.IsFinished() {
		return false
	}
	return true
}

func (f ScheduleFilter) match(s *models.Schedule) bool {
	if f.PipelineID != "" && s.PipelineID != f.PipelineID {
		return false
	}
	if f.EnabledOnly && !s.Enabled {
		return false
	}
	return true
}
