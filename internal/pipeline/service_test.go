package pipeline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/internal/cleanup"
	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/logging"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

func newService(t *testing.T) (*Service, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	byID, _ := templates()
	for _, tpl := range byID {
		require.NoError(t, store.SaveDPUTemplate(tpl))
	}
	logger := logging.Discard()
	deleter := cleanup.New(store, config.FilesConfig{WorkingDir: t.TempDir()}, config.CleanupConfig{Parallelism: 1}, logger, nil)
	return NewService(store, deleter, logger), store
}

func TestServiceSave(t *testing.T) {
	svc, store := newService(t)

	p := diamond()
	res, err := svc.Save(p)
	require.NoError(t, err)
	assert.True(t, res.Valid())
	_, err = store.GetPipeline(p.ID)
	require.NoError(t, err)

	broken := diamond()
	broken.Name = "broken"
	broken.Graph.Edges = append(broken.Graph.Edges, models.PipelineEdge{ID: "e9", From: "n4", To: "n1"})
	res, err = svc.Save(broken)
	assert.ErrorIs(t, err, ErrInvalid)
	require.NotNil(t, res)
	assert.False(t, res.Valid())
	_, err = store.GetPipeline(broken.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestServiceCopy(t *testing.T) {
	svc, _ := newService(t)
	p := diamond()
	_, err := svc.Save(p)
	require.NoError(t, err)

	first, err := svc.Copy(p.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Copy of diamond", first.Name)
	assert.Equal(t, "bob", first.Owner)
	assert.Len(t, first.Graph.Nodes, 4)

	second, err := svc.Copy(p.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Copy of diamond (2)", second.Name)
}

func TestServiceExportImport(t *testing.T) {
	svc, store := newService(t)
	p := diamond()
	_, err := svc.Save(p)
	require.NoError(t, err)

	_, data, err := svc.Export(p.ID)
	require.NoError(t, err)
	require.NoError(t, store.DeletePipeline(p.ID))

	imported, res, err := svc.Import(data, "carol")
	require.NoError(t, err)
	assert.True(t, res.Valid())
	assert.Equal(t, "diamond", imported.Name)
	assert.Equal(t, "carol", imported.Owner)

	var dot bytes.Buffer
	require.NoError(t, svc.WriteDOT(imported.ID, &dot))
	assert.Contains(t, dot.String(), "digraph")
}

func TestServiceRun(t *testing.T) {
	svc, store := newService(t)
	p := diamond()
	_, err := svc.Save(p)
	require.NoError(t, err)

	e, err := svc.Run(p.ID, "alice", RunOptions{Debug: true, DebugNode: "n2"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionQueued, e.Status)
	assert.True(t, e.DebugMode)
	assert.Equal(t, "n2", e.DebugNodeID)

	stored, err := store.GetExecution(e.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.PipelineID)

	_, err = svc.Run(p.ID, "alice", RunOptions{DebugNode: "n99"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Run("pipeline:missing", "alice", RunOptions{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestServiceDelete(t *testing.T) {
	svc, store := newService(t)
	p := diamond()
	_, err := svc.Save(p)
	require.NoError(t, err)
	other := models.NewPipeline("other", "admin")
	require.NoError(t, store.SavePipeline(other))

	own := models.NewSchedule(p.ID, models.SchedulePeriodically, "admin")
	own.Period = "PT1H"
	after := models.NewSchedule(other.ID, models.ScheduleAfterPipeline, "admin")
	after.AfterPipelines = []string{p.ID}
	require.NoError(t, store.SaveSchedule(own))
	require.NoError(t, store.SaveSchedule(after))

	running, err := svc.Run(p.ID, "admin", RunOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(p.ID, "admin"), ErrActive)

	running.Status = models.ExecutionFinishedSuccess
	require.NoError(t, store.SaveExecution(running))
	require.NoError(t, svc.Delete(p.ID, "admin"))

	_, err = store.GetPipeline(p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetExecution(running.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetSchedule(own.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	kept, err := store.GetSchedule(after.ID)
	require.NoError(t, err)
	assert.Empty(t, kept.AfterPipelines)
	assert.False(t, kept.Enabled)
}
