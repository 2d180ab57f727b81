//go:build integration

package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	evetesting "eve.evalgo.org/containers/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/logging"
	"evalgo.org/unifiedviews/models"
)

// newCouchDB starts a CouchDB container and opens a store on it.
func newCouchDB(t *testing.T) *CouchDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	couchURL, cleanup, err := evetesting.SetupCouchDB(context.Background(), t, nil)
	require.NoError(t, err, "Failed to start CouchDB container")
	t.Cleanup(cleanup)

	cfg := &config.Config{
		CouchDB: config.CouchDBConfig{
			URL:      couchURL,
			Database: "unifiedviews_test",
			Username: "admin",
			Password: "password",
		},
	}
	store, err := New(cfg, logging.Discard())
	require.NoError(t, err, "Failed to initialize storage")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCouchDBIntegration(t *testing.T) {
	store := newCouchDB(t)

	t.Run("DPU templates", func(t *testing.T) {
		tpl := models.NewDPUTemplate("SPARQL Extractor", models.DPUTypeExtractor, "admin")
		require.NoError(t, store.SaveDPUTemplate(tpl))
		require.NotEmpty(t, tpl.Rev)

		got, err := store.GetDPUTemplateByName("SPARQL Extractor")
		require.NoError(t, err)
		assert.Equal(t, tpl.ID, got.ID)

		dup := models.NewDPUTemplate("SPARQL Extractor", models.DPUTypeLoader, "admin")
		assert.ErrorIs(t, store.SaveDPUTemplate(dup), ErrConflict)

		got.Description = "updated"
		require.NoError(t, store.SaveDPUTemplate(got))

		extractors, err := store.ListDPUTemplates(DPUFilter{Type: models.DPUTypeExtractor})
		require.NoError(t, err)
		require.Len(t, extractors, 1)
		assert.Equal(t, "updated", extractors[0].Description)

		require.NoError(t, store.DeleteDPUTemplate(tpl.ID))
		_, err = store.GetDPUTemplate(tpl.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("pipelines and schedules", func(t *testing.T) {
		p := models.NewPipeline("nightly", "admin")
		p.Graph.Nodes = []models.PipelineNode{{ID: "n1", TemplateID: "dpu:x", Name: "extract"}}
		require.NoError(t, store.SavePipeline(p))

		using, err := store.ListPipelinesUsingTemplate("dpu:x")
		require.NoError(t, err)
		require.Len(t, using, 1)

		s := models.NewSchedule("pipeline:other", models.ScheduleAfterPipeline, "admin")
		s.AfterPipelines = []string{p.ID}
		require.NoError(t, store.SaveSchedule(s))

		schedules, err := store.ListSchedulesForPipeline(p.ID)
		require.NoError(t, err)
		require.Len(t, schedules, 1)
		assert.Equal(t, s.ID, schedules[0].ID)

		require.NoError(t, store.DeleteSchedule(s.ID))
		require.NoError(t, store.DeletePipeline(p.ID))
	})

	t.Run("executions", func(t *testing.T) {
		old := models.NewExecution("pipeline:1", "admin")
		old.Status = models.ExecutionFinishedSuccess
		old.CreatedAt = time.Now().AddDate(0, -2, 0)
		recent := models.NewExecution("pipeline:1", "admin")
		recent.Status = models.ExecutionRunning
		require.NoError(t, store.SaveExecution(old))
		require.NoError(t, store.SaveExecution(recent))

		before, err := store.ListExecutions(ExecutionFilter{Before: time.Now().AddDate(0, -1, 0), FinishedOnly: true})
		require.NoError(t, err)
		require.Len(t, before, 1)
		assert.Equal(t, old.ID, before[0].ID)

		all, err := store.ListExecutions(ExecutionFilter{PipelineID: "pipeline:1"})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, recent.ID, all[0].ID)
	})

	t.Run("executions written with an offset", func(t *testing.T) {
		cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		e := models.NewExecution("pipeline:offset", "admin")
		e.Status = models.ExecutionFinishedSuccess
		e.CreatedAt = time.Date(2024, 1, 1, 1, 0, 0, 0, time.FixedZone("+02:00", 2*60*60))
		require.NoError(t, store.SaveExecution(e))

		got, err := store.GetExecution(e.ID)
		require.NoError(t, err)
		assert.Equal(t, time.UTC, got.CreatedAt.Location())

		before, err := store.ListExecutions(ExecutionFilter{PipelineID: "pipeline:offset", Before: cutoff})
		require.NoError(t, err)
		require.Len(t, before, 1)
		assert.Equal(t, e.ID, before[0].ID)
	})

	t.Run("users and prefixes", func(t *testing.T) {
		u := models.NewUser("alice", models.RoleUser)
		require.NoError(t, store.SaveUser(u))
		assert.ErrorIs(t, store.SaveUser(models.NewUser("alice")), ErrConflict)

		got, err := store.GetUserByUsername("alice")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		p := models.NewNamespacePrefix("foaf", "http://xmlns.com/foaf/0.1/")
		require.NoError(t, store.SavePrefix(p))
		prefix, err := store.GetPrefixByName("foaf")
		require.NoError(t, err)
		assert.Equal(t, p.URI, prefix.URI)
	})

	t.Run("statistics", func(t *testing.T) {
		stats, err := store.GetStatistics()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stats.TotalExecutions, 2)
	})
}

func TestCouchDBWatchExecutions(t *testing.T) {
	store := newCouchDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var changes []ExecutionChange
	go func() {
		_ = store.WatchExecutions(ctx, func(c ExecutionChange) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})
	}()

	e := models.NewExecution("pipeline:1", "admin")
	require.Eventually(t, func() bool {
		// the feed may start after the first save
		require.NoError(t, store.SaveExecution(e))
		mu.Lock()
		defer mu.Unlock()
		return len(changes) > 0
	}, 30*time.Second, 200*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, e.ID, changes[0].Execution.ID)
}
