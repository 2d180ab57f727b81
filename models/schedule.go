package models

import "time"

// ScheduleType selects how a schedule fires.
type ScheduleType string

const (
	// SchedulePeriodically fires at FirstExecution and then every Period.
	SchedulePeriodically ScheduleType = "PERIODICALLY"
	// ScheduleAfterPipeline fires once all AfterPipelines have finished.
	ScheduleAfterPipeline ScheduleType = "AFTER_PIPELINE"
)

// Schedule queues executions of a pipeline.
type Schedule struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`

	ID  string `json:"@id" couchdb:"_id"`
	Rev string `json:"_rev,omitempty" couchdb:"_rev"`

	PipelineID   string       `json:"pipelineId"`
	Description  string       `json:"description,omitempty"`
	ScheduleType ScheduleType `json:"scheduleType"`
	Enabled      bool         `json:"enabled"`
	JustOnce     bool         `json:"justOnce"`

	// FirstExecution is the first slot of a periodic schedule.
	FirstExecution *time.Time `json:"firstExecution,omitempty"`

	// Period is an ISO 8601 duration (PT15M, P1D) or a cron expression.
	Period string `json:"period,omitempty"`

	AfterPipelines []string `json:"afterPipelines,omitempty"`

	// StrictlyTimed schedules skip slots missed by more than the tolerance.
	StrictlyTimed          bool `json:"strictlyTimed"`
	StrictToleranceMinutes int  `json:"strictToleranceMinutes,omitempty"`

	LastExecution *time.Time `json:"lastExecution,omitempty"`
	Owner         string     `json:"owner,omitempty"`
	Priority      int        `json:"priority"`

	CreatedAt time.Time `json:"dateCreated"`
	UpdatedAt time.Time `json:"dateModified"`
}

// NewSchedule creates an enabled schedule with defaults applied.
func NewSchedule(pipelineID string, scheduleType ScheduleType, owner string) *Schedule {
	now := time.Now()
	return &Schedule{
		Context:      Context,
		Type:         TypeSchedule,
		ID:           GenerateID("schedule"),
		PipelineID:   pipelineID,
		ScheduleType: scheduleType,
		Enabled:      true,
		Owner:        owner,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MarkFired records a firing at t and disables one-shot schedules.
func (s *Schedule) MarkFired(t time.Time) {
	s.LastExecution = &t
	s.UpdatedAt = time.Now()
	if s.JustOnce {
		s.Enabled = false
	}
}
