package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/logging"
	"evalgo.org/unifiedviews/internal/metrics"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *storage.Memory, *metrics.Metrics) {
	t.Helper()
	store := storage.NewMemory()
	m := metrics.New()
	s := New(store, config.SchedulerConfig{Interval: 10 * time.Millisecond}, logging.Discard(), m)
	return s, store, m
}

func savePipeline(t *testing.T, store storage.Store, name string) *models.Pipeline {
	t.Helper()
	p := models.NewPipeline(name, "admin")
	require.NoError(t, store.SavePipeline(p))
	return p
}

func periodic(pipelineID, period string, first time.Time) *models.Schedule {
	s := models.NewSchedule(pipelineID, models.SchedulePeriodically, "admin")
	s.Period = period
	s.FirstExecution = &first
	s.CreatedAt = first
	return s
}

func queuedFor(t *testing.T, store storage.Store, pipelineID string) []*models.Execution {
	t.Helper()
	executions, err := store.ListExecutions(storage.ExecutionFilter{PipelineID: pipelineID})
	require.NoError(t, err)
	return executions
}

func TestLatestSlot(t *testing.T) {
	last := base.Add(2 * time.Hour)
	tests := []struct {
		name   string
		last   *time.Time
		now    time.Time
		want   time.Time
		wantOK bool
	}{
		{name: "before first", now: base.Add(-time.Minute)},
		{name: "at first", now: base, want: base, wantOK: true},
		{name: "catch up to latest", now: base.Add(3*time.Hour + 10*time.Minute), want: base.Add(3 * time.Hour), wantOK: true},
		{name: "already fired", last: &last, now: base.Add(2*time.Hour + 30*time.Minute)},
		{name: "next after last", last: &last, now: base.Add(3 * time.Hour), want: base.Add(3 * time.Hour), wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := periodic("p", "PT1H", base)
			s.LastExecution = tt.last
			got, ok, err := LatestSlot(s, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}

	bad := periodic("p", "every hour", base)
	_, _, err := LatestSlot(bad, base)
	assert.Error(t, err)
}

func TestLatestSlotLongRunning(t *testing.T) {
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := periodic("p", "PT1M", first)

	end := first.Add(80 * 24 * time.Hour)
	for now := first; !now.After(end); now = now.Add(time.Minute) {
		slot, ok, err := LatestSlot(s, now)
		if err != nil || !ok || !slot.Equal(now) {
			t.Fatalf("at %s: slot=%s ok=%v err=%v", now.Format(time.RFC3339), slot.Format(time.RFC3339), ok, err)
		}
		s.MarkFired(slot)

		if _, ok, _ := LatestSlot(s, now.Add(30*time.Second)); ok {
			t.Fatalf("at %s: fired twice in one slot", now.Format(time.RFC3339))
		}
	}
}

func TestLatestSlotAfterLongPause(t *testing.T) {
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.Add(10 * time.Minute)
	now := first.AddDate(1, 0, 0).Add(90 * time.Second)

	tests := []struct {
		period string
		want   time.Time
	}{
		{period: "PT1M", want: first.AddDate(1, 0, 0).Add(time.Minute)},
		{period: "PT5M", want: first.AddDate(1, 0, 0)},
		{period: "* * * * *", want: first.AddDate(1, 0, 0).Add(time.Minute)},
		{period: "P1D", want: first.AddDate(1, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			s := periodic("p", tt.period, first)
			s.LastExecution = &last
			got, ok, err := LatestSlot(s, now)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLatestSlotMonthEnd(t *testing.T) {
	first := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)
	s := periodic("p", "P1M", first)
	s.LastExecution = &first

	slot, ok, err := LatestSlot(s, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC), slot)

	s.MarkFired(slot)
	next, ok := NextRun(s, slot)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 31, 8, 0, 0, 0, time.UTC), next)
}

func TestNextRun(t *testing.T) {
	s := periodic("p", "P1D", base)
	next, ok := NextRun(s, base.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, base.Add(24*time.Hour), next)

	next, ok = NextRun(s, base.Add(-time.Hour))
	require.True(t, ok)
	assert.Equal(t, base, next)

	s.Enabled = false
	_, ok = NextRun(s, base)
	assert.False(t, ok)

	after := models.NewSchedule("p", models.ScheduleAfterPipeline, "admin")
	_, ok = NextRun(after, base)
	assert.False(t, ok)
}

func TestEvaluatePeriodically(t *testing.T) {
	s, store, m := newTestScheduler(t)
	p := savePipeline(t, store, "nightly")
	sched := periodic(p.ID, "PT1H", base)
	require.NoError(t, store.SaveSchedule(sched))

	assert.Equal(t, 0, s.Evaluate(base.Add(-time.Minute)))
	assert.Equal(t, 1, s.Evaluate(base.Add(time.Minute)))

	executions := queuedFor(t, store, p.ID)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionQueued, executions[0].Status)
	assert.Equal(t, sched.ID, executions[0].ScheduleID)

	saved, err := store.GetSchedule(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, saved.LastExecution)
	assert.True(t, saved.LastExecution.Equal(base))

	// the slot is taken, and the first execution is still queued
	assert.Equal(t, 0, s.Evaluate(base.Add(2*time.Minute)))
	assert.Equal(t, 0, s.Evaluate(base.Add(time.Hour+time.Minute)))

	executions[0].Status = models.ExecutionFinishedSuccess
	require.NoError(t, store.SaveExecution(executions[0]))
	assert.Equal(t, 1, s.Evaluate(base.Add(time.Hour+time.Minute)))
	assert.Len(t, queuedFor(t, store, p.ID), 2)

	expected := `
# HELP unifiedviews_scheduler_executions_queued_total Executions queued by schedules.
# TYPE unifiedviews_scheduler_executions_queued_total counter
unifiedviews_scheduler_executions_queued_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "unifiedviews_scheduler_executions_queued_total"))
}

func TestEvaluateStrictlyTimed(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	p := savePipeline(t, store, "strict")
	sched := periodic(p.ID, "P1D", base)
	sched.StrictlyTimed = true
	sched.StrictToleranceMinutes = 10
	require.NoError(t, store.SaveSchedule(sched))

	assert.Equal(t, 0, s.Evaluate(base.Add(11*time.Minute)), "missed slot is skipped")
	assert.Equal(t, 1, s.Evaluate(base.Add(24*time.Hour+5*time.Minute)))
}

func TestEvaluateJustOnce(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	p := savePipeline(t, store, "once")
	sched := periodic(p.ID, "PT5M", base)
	sched.JustOnce = true
	require.NoError(t, store.SaveSchedule(sched))

	assert.Equal(t, 1, s.Evaluate(base))
	saved, err := store.GetSchedule(sched.ID)
	require.NoError(t, err)
	assert.False(t, saved.Enabled)
}

func TestEvaluateAfterPipeline(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	a := savePipeline(t, store, "a")
	b := savePipeline(t, store, "b")
	target := savePipeline(t, store, "target")

	sched := models.NewSchedule(target.ID, models.ScheduleAfterPipeline, "admin")
	sched.AfterPipelines = []string{a.ID, b.ID}
	sched.CreatedAt = base
	require.NoError(t, store.SaveSchedule(sched))

	finish := func(pipelineID string, status models.ExecutionStatus, ended time.Time) {
		e := models.NewExecution(pipelineID, "admin")
		e.Status = status
		e.CreatedAt = ended.Add(-time.Minute)
		e.EndedAt = &ended
		require.NoError(t, store.SaveExecution(e))
	}

	finish(a.ID, models.ExecutionFinishedSuccess, base.Add(time.Minute))
	assert.Equal(t, 0, s.Evaluate(base.Add(2*time.Minute)), "b has not finished")

	finish(b.ID, models.ExecutionFailed, base.Add(2*time.Minute))
	assert.Equal(t, 0, s.Evaluate(base.Add(3*time.Minute)), "failed runs do not count")

	finish(b.ID, models.ExecutionFinishedWarning, base.Add(3*time.Minute))
	now := base.Add(4 * time.Minute)
	assert.Equal(t, 1, s.Evaluate(now))

	executions := queuedFor(t, store, target.ID)
	require.Len(t, executions, 1)
	executions[0].Status = models.ExecutionFinishedSuccess
	require.NoError(t, store.SaveExecution(executions[0]))

	assert.Equal(t, 0, s.Evaluate(base.Add(5*time.Minute)), "no new runs since the last firing")
}

func TestEvaluateMissingPipeline(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	require.NoError(t, store.SaveSchedule(periodic("pipeline:gone", "PT1H", base)))
	assert.Equal(t, 0, s.Evaluate(base))
}

func TestStartStop(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	p := savePipeline(t, store, "loop")
	require.NoError(t, store.SaveSchedule(periodic(p.ID, "PT1H", time.Now().Add(-time.Minute))))

	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(queuedFor(t, store, p.ID)) == 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.running
	}, time.Second, 5*time.Millisecond)
}

func TestStartStopConcurrently(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	for i := 0; i < 50; i++ {
		s.Start(context.Background())

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
		s.Start(context.Background())
		wg.Wait()

		s.mu.Lock()
		running, done := s.running, s.done
		s.mu.Unlock()
		closed := false
		select {
		case <-done:
			closed = true
		default:
		}
		require.Equal(t, running, !closed, "iteration %d", i)

		s.Stop()
		s.mu.Lock()
		require.False(t, s.running)
		s.mu.Unlock()
	}
}
