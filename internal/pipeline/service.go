package pipeline

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/cleanup"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

// ErrActive is returned when a pipeline with queued or running executions
// is deleted.
var ErrActive = errors.New("pipeline has active executions")

// activeStates are the execution states that block deletion.
var activeStates = []models.ExecutionStatus{
	models.ExecutionQueued,
	models.ExecutionRunning,
	models.ExecutionCancelling,
}

// Service stores pipelines after validating them and manages their
// executions and schedules.
type Service struct {
	store   storage.Store
	deleter *cleanup.Deleter
	logger  *log.Logger
}

// NewService creates a pipeline service. Executions of deleted pipelines are
// removed through deleter.
func NewService(store storage.Store, deleter *cleanup.Deleter, logger *log.Logger) *Service {
	return &Service{store: store, deleter: deleter, logger: logger}
}

// Templates returns the installed templates keyed by ID.
func (s *Service) Templates() (map[string]*models.DPUTemplate, error) {
	list, err := s.store.ListDPUTemplates(storage.DPUFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list DPU templates: %w", err)
	}
	byID := make(map[string]*models.DPUTemplate, len(list))
	for _, t := range list {
		byID[t.ID] = t
	}
	return byID, nil
}

func (s *Service) templatesByName() (map[string]*models.DPUTemplate, error) {
	byID, err := s.Templates()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*models.DPUTemplate, len(byID))
	for _, t := range byID {
		byName[t.Name] = t
	}
	return byName, nil
}

// Check validates p against the installed templates.
func (s *Service) Check(p *models.Pipeline) (*Result, error) {
	templates, err := s.Templates()
	if err != nil {
		return nil, err
	}
	return Validate(p, templates), nil
}

// Save validates and stores p. An invalid pipeline is not stored; the
// result lists the problems and the error wraps ErrInvalid.
func (s *Service) Save(p *models.Pipeline) (*Result, error) {
	p.Name = strings.TrimSpace(p.Name)
	res, err := s.Check(p)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return res, err
	}
	p.UpdatedAt = time.Now()
	if err := s.store.SavePipeline(p); err != nil {
		return res, err
	}
	return res, nil
}

// Copy stores a copy of pipeline id owned by actor under a fresh name.
func (s *Service) Copy(id, actor string) (*models.Pipeline, error) {
	p, err := s.store.GetPipeline(id)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListPipelines(storage.PipelineFilter{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for _, other := range all {
		names = append(names, other.Name)
	}
	c := Copy(p, CopyName(p.Name, names), actor)
	if err := s.store.SavePipeline(c); err != nil {
		return nil, err
	}
	s.logger.Infof("Pipeline %s copied to %s by %s", p.Name, c.Name, actor)
	return c, nil
}

// Import stores the pipeline described by a YAML document.
func (s *Service) Import(data []byte, actor string) (*models.Pipeline, *Result, error) {
	byName, err := s.templatesByName()
	if err != nil {
		return nil, nil, err
	}
	p, err := Import(data, byName, actor)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Save(p)
	if err != nil {
		return nil, res, err
	}
	s.logger.Infof("Pipeline %s imported by %s", p.Name, actor)
	return p, res, nil
}

// Export returns the YAML document of pipeline id.
func (s *Service) Export(id string) (*models.Pipeline, []byte, error) {
	p, err := s.store.GetPipeline(id)
	if err != nil {
		return nil, nil, err
	}
	templates, err := s.Templates()
	if err != nil {
		return nil, nil, err
	}
	data, err := Export(p, templates)
	if err != nil {
		return nil, nil, err
	}
	return p, data, nil
}

// WriteDOT renders pipeline id as Graphviz DOT.
func (s *Service) WriteDOT(id string, w io.Writer) error {
	p, err := s.store.GetPipeline(id)
	if err != nil {
		return err
	}
	templates, err := s.Templates()
	if err != nil {
		return err
	}
	return RenderDOT(p, templates, w)
}

// RunOptions control a manual run.
type RunOptions struct {
	Debug      bool   `json:"debug"`
	DebugNode  string `json:"debugNode,omitempty"`
	ScheduleID string `json:"-"`
}

// Run queues an execution of pipeline id. Invalid pipelines are not queued.
func (s *Service) Run(id, actor string, opts RunOptions) (*models.Execution, error) {
	p, err := s.store.GetPipeline(id)
	if err != nil {
		return nil, err
	}
	res, err := s.Check(p)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	if opts.DebugNode != "" && p.Node(opts.DebugNode) == nil {
		return nil, fmt.Errorf("%w: debug node %s is not part of the pipeline", ErrInvalid, opts.DebugNode)
	}

	e := models.NewExecution(p.ID, actor)
	e.DebugMode = opts.Debug
	e.DebugNodeID = opts.DebugNode
	e.ScheduleID = opts.ScheduleID
	if err := s.store.SaveExecution(e); err != nil {
		return nil, fmt.Errorf("failed to queue execution: %w", err)
	}
	s.logger.Infof("Pipeline %s queued by %s as %s", p.Name, actor, e.ID)
	return e, nil
}

// Delete removes pipeline id together with its schedules and finished
// executions. Pipelines with active executions are kept; other schedules
// stop waiting for the deleted pipeline.
func (s *Service) Delete(id, actor string) error {
	p, err := s.store.GetPipeline(id)
	if err != nil {
		return err
	}

	active, err := s.store.ListExecutions(storage.ExecutionFilter{PipelineID: id, Status: activeStates, Limit: 1})
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return fmt.Errorf("%w: %s is %s", ErrActive, active[0].ID, active[0].Status)
	}

	schedules, err := s.store.ListSchedulesForPipeline(id)
	if err != nil {
		return err
	}
	for _, sched := range schedules {
		if sched.PipelineID == id {
			if err := s.store.DeleteSchedule(sched.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("failed to delete schedule %s: %w", sched.ID, err)
			}
			continue
		}
		sched.AfterPipelines = without(sched.AfterPipelines, id)
		if len(sched.AfterPipelines) == 0 {
			sched.Enabled = false
		}
		sched.UpdatedAt = time.Now()
		if err := s.store.SaveSchedule(sched); err != nil {
			return fmt.Errorf("failed to update schedule %s: %w", sched.ID, err)
		}
	}

	executions, err := s.store.ListExecutions(storage.ExecutionFilter{PipelineID: id, FinishedOnly: true})
	if err != nil {
		return err
	}
	for _, e := range executions {
		if err := s.deleter.Delete(actor, e.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to delete execution %s: %w", e.ID, err)
		}
	}

	if err := s.store.DeletePipeline(id); err != nil {
		return err
	}
	s.logger.Infof("Pipeline %s deleted by %s with %d schedule(s) and %d execution(s)", p.Name, actor, len(schedules), len(executions))
	return nil
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
