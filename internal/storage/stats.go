package storage

import (
	"evalgo.org/unifiedviews/models"
)

// Statistics contains overview statistics for the dashboard
type Statistics struct {
	TotalTemplates    int
	TemplatesByType   map[models.DPUType]int
	TotalPipelines    int
	TotalExecutions   int
	ExecutionsByState map[models.ExecutionStatus]int
	RunningExecutions int
	FailedExecutions  int
	TotalSchedules    int
	EnabledSchedules  int
	TotalUsers        int
	TotalPrefixes     int

	// DocumentCount is the number of live documents in the database (CouchDB only)
	DocumentCount int64
}

// lister is the subset of Store needed to compute statistics.
type lister interface {
	ListDPUTemplates(filter DPUFilter) ([]*models.DPUTemplate, error)
	ListPipelines(filter PipelineFilter) ([]*models.Pipeline, error)
	ListExecutions(filter ExecutionFilter) ([]*models.Execution, error)
	ListSchedules(filter ScheduleFilter) ([]*models.Schedule, error)
	ListUsers() ([]*models.User, error)
	ListPrefixes() ([]*models.NamespacePrefix, error)
}

// computeStatistics calculates dashboard statistics from the record lists.
func computeStatistics(s lister) (*Statistics, error) {
	stats := &Statistics{
		TemplatesByType:   make(map[models.DPUType]int),
		ExecutionsByState: make(map[models.ExecutionStatus]int),
	}

	templates, err := s.ListDPUTemplates(DPUFilter{})
	if err != nil {
		return nil, err
	}
	stats.TotalTemplates = len(templates)
	for _, t := range templates {
		stats.TemplatesByType[t.DPUType]++
	}

	pipelines, err := s.ListPipelines(PipelineFilter{})
	if err != nil {
		return nil, err
	}
	stats.TotalPipelines = len(pipelines)

	executions, err := s.ListExecutions(ExecutionFilter{})
	if err != nil {
		return nil, err
	}
	stats.TotalExecutions = len(executions)
	for _, e := range executions {
		stats.ExecutionsByState[e.Status]++
		switch e.Status {
		case models.ExecutionRunning, models.ExecutionCancelling:
			stats.RunningExecutions++
		case models.ExecutionFailed:
			stats.FailedExecutions++
		}
	}

	schedules, err := s.ListSchedules(ScheduleFilter{})
	if err != nil {
		return nil, err
	}
	stats.TotalSchedules = len(schedules)
	for _, sc := range schedules {
		if sc.Enabled {
			stats.EnabledSchedules++
		}
	}

	users, err := s.ListUsers()
	if err != nil {
		return nil, err
	}
	stats.TotalUsers = len(users)

	prefixes, err := s.ListPrefixes()
	if err != nil {
		return nil, err
	}
	stats.TotalPrefixes = len(prefixes)

	return stats, nil
}

// GetStatistics calculates and returns dashboard statistics
func (s *CouchDB) GetStatistics() (*Statistics, error) {
	stats, err := computeStatistics(s)
	if err != nil {
		return nil, err
	}
	if info, err := s.service.GetDatabaseInfo(); err == nil {
		stats.DocumentCount = int64(info.DocCount)
	}
	return stats, nil
}
