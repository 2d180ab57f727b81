package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/models"
)

func TestMemoryDPUTemplates(t *testing.T) {
	m := NewMemory()

	tpl := models.NewDPUTemplate("SPARQL Extractor", models.DPUTypeExtractor, "admin")
	require.NoError(t, m.SaveDPUTemplate(tpl))
	assert.NotEmpty(t, tpl.Rev)
	firstRev := tpl.Rev

	got, err := m.GetDPUTemplate(tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "SPARQL Extractor", got.Name)
	assert.Equal(t, models.TypeDPUTemplate, got.Type)

	// returned documents are copies
	got.Name = "changed"
	again, err := m.GetDPUTemplate(tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "SPARQL Extractor", again.Name)

	tpl.Description = "updated"
	require.NoError(t, m.SaveDPUTemplate(tpl))
	assert.NotEqual(t, firstRev, tpl.Rev)

	dup := models.NewDPUTemplate("SPARQL Extractor", models.DPUTypeExtractor, "admin")
	assert.ErrorIs(t, m.SaveDPUTemplate(dup), ErrConflict)

	byName, err := m.GetDPUTemplateByName("SPARQL Extractor")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, byName.ID)

	_, err = m.GetDPUTemplateByName("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.DeleteDPUTemplate(tpl.ID))
	_, err = m.GetDPUTemplate(tpl.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteDPUTemplate(tpl.ID), ErrNotFound)
}

func TestMemoryListDPUTemplatesFilter(t *testing.T) {
	m := NewMemory()
	parent := models.NewDPUTemplate("b-loader", models.DPUTypeLoader, "admin")
	child := models.NewDPUTemplate("a-loader-child", models.DPUTypeLoader, "bob")
	child.ParentID = parent.ID
	other := models.NewDPUTemplate("c-extractor", models.DPUTypeExtractor, "admin")
	for _, tpl := range []*models.DPUTemplate{parent, child, other} {
		require.NoError(t, m.SaveDPUTemplate(tpl))
	}

	all, err := m.ListDPUTemplates(DPUFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a-loader-child", all[0].Name)

	loaders, err := m.ListDPUTemplates(DPUFilter{Type: models.DPUTypeLoader})
	require.NoError(t, err)
	assert.Len(t, loaders, 2)

	children, err := m.ListDPUTemplates(DPUFilter{ParentID: parent.ID})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	owned, err := m.ListDPUTemplates(DPUFilter{Owner: "bob"})
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestMemoryPipelinesUsingTemplate(t *testing.T) {
	m := NewMemory()
	p1 := models.NewPipeline("p1", "admin")
	p1.Graph.Nodes = []models.PipelineNode{{ID: "n1", TemplateID: "dpu:a"}}
	p2 := models.NewPipeline("p2", "admin")
	p2.Graph.Nodes = []models.PipelineNode{{ID: "n1", TemplateID: "dpu:b"}}
	require.NoError(t, m.SavePipeline(p1))
	require.NoError(t, m.SavePipeline(p2))

	using, err := m.ListPipelinesUsingTemplate("dpu:a")
	require.NoError(t, err)
	require.Len(t, using, 1)
	assert.Equal(t, p1.ID, using[0].ID)

	dup := models.NewPipeline("p1", "other")
	assert.ErrorIs(t, m.SavePipeline(dup), ErrConflict)
}

func TestMemoryListExecutions(t *testing.T) {
	m := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mk := func(pipeline string, status models.ExecutionStatus, age int) *models.Execution {
		e := models.NewExecution(pipeline, "admin")
		e.Status = status
		e.CreatedAt = base.Add(time.Duration(age) * time.Hour)
		require.NoError(t, m.SaveExecution(e))
		return e
	}
	old := mk("p1", models.ExecutionFinishedSuccess, 0)
	mk("p1", models.ExecutionRunning, 1)
	mk("p2", models.ExecutionFailed, 2)
	newest := mk("p1", models.ExecutionFinishedWarning, 3)

	tests := []struct {
		name   string
		filter ExecutionFilter
		want   int
	}{
		{"all", ExecutionFilter{}, 4},
		{"by pipeline", ExecutionFilter{PipelineID: "p1"}, 3},
		{"by status", ExecutionFilter{Status: []models.ExecutionStatus{models.ExecutionFailed, models.ExecutionRunning}}, 2},
		{"before", ExecutionFilter{Before: base.Add(2 * time.Hour)}, 2},
		{"finished only", ExecutionFilter{FinishedOnly: true}, 3},
		{"limit", ExecutionFilter{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ListExecutions(tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	all, err := m.ListExecutions(ExecutionFilter{})
	require.NoError(t, err)
	assert.Equal(t, newest.ID, all[0].ID)
	assert.Equal(t, old.ID, all[len(all)-1].ID)
}

func TestMemorySchedulesForPipeline(t *testing.T) {
	m := NewMemory()
	own := models.NewSchedule("p1", models.SchedulePeriodically, "admin")
	after := models.NewSchedule("p2", models.ScheduleAfterPipeline, "admin")
	after.AfterPipelines = []string{"p1"}
	unrelated := models.NewSchedule("p3", models.SchedulePeriodically, "admin")
	unrelated.Enabled = false
	for _, s := range []*models.Schedule{own, after, unrelated} {
		require.NoError(t, m.SaveSchedule(s))
	}

	got, err := m.ListSchedulesForPipeline("p1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	enabled, err := m.ListSchedules(ScheduleFilter{EnabledOnly: true})
	require.NoError(t, err)
	assert.Len(t, enabled, 2)
}

func TestMemoryUsersAndPrefixes(t *testing.T) {
	m := NewMemory()

	u := models.NewUser("alice", models.RoleAdmin)
	require.NoError(t, m.SaveUser(u))
	assert.ErrorIs(t, m.SaveUser(models.NewUser("alice")), ErrConflict)

	got, err := m.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.True(t, got.IsAdmin())

	p := models.NewNamespacePrefix("foaf", "http://xmlns.com/foaf/0.1/")
	require.NoError(t, m.SavePrefix(p))
	prefix, err := m.GetPrefixByName("foaf")
	require.NoError(t, err)
	assert.Equal(t, "http://xmlns.com/foaf/0.1/", prefix.URI)

	dup := &models.NamespacePrefix{ID: "prefix:other", Name: "foaf", URI: "http://example.org/"}
	assert.ErrorIs(t, m.SavePrefix(dup), ErrConflict)

	require.NoError(t, m.DeletePrefix(p.ID))
	prefixes, err := m.ListPrefixes()
	require.NoError(t, err)
	assert.Empty(t, prefixes)
}

func TestMemoryWatchExecutions(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var changes []ExecutionChange
	done := make(chan struct{})
	go func() {
		_ = m.WatchExecutions(ctx, func(c ExecutionChange) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return len(m.watchers) == 1
	}, time.Second, 5*time.Millisecond)

	e := models.NewExecution("p1", "admin")
	require.NoError(t, m.SaveExecution(e))
	e.Status = models.ExecutionRunning
	require.NoError(t, m.SaveExecution(e))
	require.NoError(t, m.DeleteExecution(e.ID))

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 3)
	assert.Equal(t, ChangeTypeCreated, changes[0].Type)
	assert.Equal(t, ChangeTypeUpdated, changes[1].Type)
	assert.Equal(t, models.ExecutionRunning, changes[1].Execution.Status)
	assert.Equal(t, ChangeTypeDeleted, changes[2].Type)
}

func TestMemoryStatistics(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SaveDPUTemplate(models.NewDPUTemplate("x", models.DPUTypeExtractor, "")))
	require.NoError(t, m.SavePipeline(models.NewPipeline("p", "")))
	e := models.NewExecution("p", "")
	e.Status = models.ExecutionFailed
	require.NoError(t, m.SaveExecution(e))

	stats, err := m.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTemplates)
	assert.Equal(t, 1, stats.TemplatesByType[models.DPUTypeExtractor])
	assert.Equal(t, 1, stats.TotalPipelines)
	assert.Equal(t, 1, stats.FailedExecutions)
}

func TestExecutionChangeString(t *testing.T) {
	c := ExecutionChange{Type: ChangeTypeDeleted, Execution: &models.Execution{ID: "execution:1"}}
	assert.Equal(t, "[deleted] Execution deleted: execution:1", c.String())
	assert.True(t, isFirstRevision("1-abc"))
	assert.False(t, isFirstRevision("2-abc"))
}
