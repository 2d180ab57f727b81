// Package scheduler queues pipeline executions for enabled schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/metrics"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

// maxSlots bounds the walk over the slots of a cron expression.
const maxSlots = 100000

// DefaultTolerance is used by strictly timed schedules without a tolerance.
const DefaultTolerance = 5 * time.Minute

// Scheduler evaluates enabled schedules on a fixed interval and queues
// executions for the ones that are due.
type Scheduler struct {
	store    storage.Store
	logger   *log.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New creates a new scheduler instance.
func New(store storage.Store, cfg config.SchedulerConfig, logger *log.Logger, m *metrics.Metrics) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		store:    store,
		logger:   logger,
		metrics:  m,
		interval: interval,
		now:      time.Now,
	}
}

// Start begins the scheduler loop. It stops when ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("Scheduler already running")
		return
	}
	s.running = true
	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done = stop, done

	s.logger.Infof("Scheduler started - evaluating schedules every %s", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer func() {
			ticker.Stop()
			s.mu.Lock()
			// a later Start owns the running flag once it replaced stop
			if s.stop == stop {
				s.running = false
			}
			s.mu.Unlock()
			close(done)
			s.logger.Info("Scheduler stopped")
		}()

		s.Evaluate(s.now())
		for {
			select {
			case <-ticker.C:
				s.Evaluate(s.now())
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop, done := s.stop, s.done
	s.running = false
	s.mu.Unlock()

	close(stop)
	<-done
}

// Evaluate checks all enabled schedules at now and queues an execution for
// each one that is due. It returns the number of queued executions.
func (s *Scheduler) Evaluate(now time.Time) int {
	schedules, err := s.store.ListSchedules(storage.ScheduleFilter{EnabledOnly: true})
	if err != nil {
		s.logger.Errorf("Error getting schedules: %v", err)
		return 0
	}
	if len(schedules) == 0 {
		return 0
	}
	sort.SliceStable(schedules, func(i, j int) bool { return schedules[i].Priority > schedules[j].Priority })

	s.logger.Debugf("Evaluating %d schedule(s)", len(schedules))

	queued := 0
	for _, sched := range schedules {
		slot, due, err := s.due(sched, now)
		if err != nil {
			s.logger.Errorf("Schedule %s: %v", sched.ID, err)
			continue
		}
		if !due {
			continue
		}
		ok, err := s.fire(sched, slot)
		if err != nil {
			s.logger.Errorf("Error queueing execution for schedule %s: %v", sched.ID, err)
			continue
		}
		if ok {
			queued++
		}
	}
	return queued
}

func (s *Scheduler) due(sched *models.Schedule, now time.Time) (time.Time, bool, error) {
	switch sched.ScheduleType {
	case models.SchedulePeriodically:
		return s.duePeriodically(sched, now)
	case models.ScheduleAfterPipeline:
		due, err := s.dueAfterPipelines(sched)
		return now, due, err
	}
	return time.Time{}, false, fmt.Errorf("unknown schedule type %q", sched.ScheduleType)
}

// duePeriodically finds the latest slot not later than now that has not been
// fired yet. Strictly timed schedules skip a slot missed by more than the
// tolerance; the others fire once for all missed slots.
func (s *Scheduler) duePeriodically(sched *models.Schedule, now time.Time) (time.Time, bool, error) {
	slot, ok, err := LatestSlot(sched, now)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	if sched.StrictlyTimed {
		tolerance := time.Duration(sched.StrictToleranceMinutes) * time.Minute
		if tolerance <= 0 {
			tolerance = DefaultTolerance
		}
		if now.Sub(slot) > tolerance {
			s.logger.Debugf("Schedule %s missed slot %s by more than %s", sched.ID, slot.Format(time.RFC3339), tolerance)
			return time.Time{}, false, nil
		}
	}
	return slot, true, nil
}

// LatestSlot returns the latest slot of a periodic schedule at or before now
// that comes after its last execution.
func LatestSlot(sched *models.Schedule, now time.Time) (time.Time, bool, error) {
	period, err := ParsePeriod(sched.Period)
	if err != nil {
		return time.Time{}, false, err
	}
	first := firstSlot(sched, period)
	if first.IsZero() {
		return time.Time{}, false, fmt.Errorf("period %s never fires", period)
	}
	if now.Before(first) {
		return time.Time{}, false, nil
	}
	slot := period.Floor(first, now)
	if sched.LastExecution != nil && !slot.After(*sched.LastExecution) {
		return time.Time{}, false, nil
	}
	return slot, true, nil
}

// NextRun returns when a periodic schedule fires next after now. It returns
// false for other schedule types and disabled schedules.
func NextRun(sched *models.Schedule, now time.Time) (time.Time, bool) {
	if !sched.Enabled || sched.ScheduleType != models.SchedulePeriodically {
		return time.Time{}, false
	}
	period, err := ParsePeriod(sched.Period)
	if err != nil {
		return time.Time{}, false
	}
	first := firstSlot(sched, period)
	if first.IsZero() {
		return time.Time{}, false
	}
	ref := now
	if sched.LastExecution != nil && sched.LastExecution.After(ref) {
		ref = *sched.LastExecution
	}
	next := period.After(first, ref)
	return next, !next.IsZero()
}

func firstSlot(sched *models.Schedule, period Period) time.Time {
	start := sched.CreatedAt
	if sched.FirstExecution != nil {
		start = *sched.FirstExecution
	}
	return period.First(start)
}

// dueAfterPipelines reports whether every pipeline the schedule waits for has
// finished successfully since the schedule last fired.
func (s *Scheduler) dueAfterPipelines(sched *models.Schedule) (bool, error) {
	if len(sched.AfterPipelines) == 0 {
		return false, nil
	}
	since := sched.CreatedAt
	if sched.LastExecution != nil {
		since = *sched.LastExecution
	}
	for _, pipelineID := range sched.AfterPipelines {
		executions, err := s.store.ListExecutions(storage.ExecutionFilter{
			PipelineID: pipelineID,
			Status:     []models.ExecutionStatus{models.ExecutionFinishedSuccess, models.ExecutionFinishedWarning},
			Limit:      10,
		})
		if err != nil {
			return false, fmt.Errorf("failed to list executions of %s: %w", pipelineID, err)
		}
		finished := false
		for _, e := range executions {
			if e.EndedAt != nil && e.EndedAt.After(since) {
				finished = true
				break
			}
		}
		if !finished {
			return false, nil
		}
	}
	return true, nil
}

// fire queues an execution unless the pipeline already has one queued or
// running, then records the firing on the schedule.
func (s *Scheduler) fire(sched *models.Schedule, slot time.Time) (bool, error) {
	if _, err := s.store.GetPipeline(sched.PipelineID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("pipeline %s no longer exists", sched.PipelineID)
		}
		return false, err
	}

	active, err := s.store.ListExecutions(storage.ExecutionFilter{
		PipelineID: sched.PipelineID,
		Status:     []models.ExecutionStatus{models.ExecutionQueued, models.ExecutionRunning},
		Limit:      1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to list active executions: %w", err)
	}
	if len(active) > 0 {
		s.logger.Debugf("Pipeline %s already has execution %s in %s, not queueing", sched.PipelineID, active[0].ID, active[0].Status)
		return false, nil
	}

	execution := models.NewExecution(sched.PipelineID, sched.Owner)
	execution.ScheduleID = sched.ID
	if err := s.store.SaveExecution(execution); err != nil {
		return false, fmt.Errorf("failed to save execution: %w", err)
	}
	s.metrics.ExecutionQueued()

	sched.MarkFired(slot)
	if err := s.store.SaveSchedule(sched); err != nil {
		s.logger.Errorf("Error updating schedule %s: %v", sched.ID, err)
	}

	s.logger.Infof("Queued execution %s for schedule %s", execution.ID, sched.ID)
	return true, nil
}
