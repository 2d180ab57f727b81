package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/models"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	c, err := New("http://localhost:8095/", WithToken("abc"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8095", c.baseURL)
	assert.Equal(t, "abc", c.Token())
}

func TestLoginAndListPipelines(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":401,"message":"Unauthorized","details":"invalid username or password"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok",
			"expires_at":   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	})
	mux.HandleFunc("/api/v1/pipelines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "nightly", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(List[*models.Pipeline]{
			Count: 2,
			Items: []*models.Pipeline{
				{ID: "pipeline:1", Name: "nightly"},
				{ID: "pipeline:2", Name: "nightly-copy"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Login(ctx, "admin", "wrong")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Contains(t, err.Error(), "invalid username or password")

	expires, err := c.Login(ctx, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, 2030, expires.Year())
	assert.Equal(t, "tok", c.Token())

	pipelines, err := c.ListPipelines(ctx, "nightly")
	require.NoError(t, err)
	assert.Len(t, pipelines, 2)

	p, err := c.FindPipeline(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, "pipeline:1", p.ID)

	_, err = c.FindPipeline(ctx, "nightly-")
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestRunAndWait(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/pipelines/pipeline:1/run", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var opts RunOptions
		require.NoError(t, json.NewDecoder(r.Body).Decode(&opts))
		assert.True(t, opts.Debug)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(models.Execution{ID: "execution:1", PipelineID: "pipeline:1", Status: models.ExecutionQueued})
	})
	mux.HandleFunc("/api/v1/executions/execution:1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := models.ExecutionRunning
		if polls >= 3 {
			status = models.ExecutionFinishedSuccess
		}
		_ = json.NewEncoder(w).Encode(models.Execution{ID: "execution:1", Status: status})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	e, err := c.RunPipeline(ctx, "pipeline:1", RunOptions{Debug: true})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionQueued, e.Status)

	done, err := c.WaitExecution(ctx, e.ID, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFinishedSuccess, done.Status)
	assert.Equal(t, 3, polls)
}

func TestQueryAndExportDataUnit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/executions/execution:1/dataunits/0/query", func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 10, req.Limit)
		require.Len(t, req.Filters, 1)
		assert.Equal(t, "name", req.Filters[0].Variable)
		_ = json.NewEncoder(w).Encode(Table{
			Type:    "SELECT",
			Columns: []string{"s", "name"},
			Rows: [][]Cell{{
				{Kind: "iri", Value: "http://example.org/alice", Display: "ex:alice"},
				{Kind: "literal", Value: "Alice", Display: "Alice"},
			}},
			Limit: 10,
			Total: -1,
		})
	})
	mux.HandleFunc("/api/v1/executions/execution:1/dataunits/0/export", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("s,name\r\nhttp://example.org/alice,Alice\r\n"))
	})
	mux.HandleFunc("/api/v1/executions/execution:1/dataunits/7/query", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not json"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()
	req := QueryRequest{
		Query:   "SELECT ?s ?name WHERE { ?s ?p ?name }",
		Filters: []Filter{{Variable: "name", Value: "ali", Mode: "contains"}},
		Limit:   10,
	}

	table, err := c.QueryDataUnit(ctx, "execution:1", 0, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "name"}, table.Columns)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "ex:alice", table.Rows[0][0].Display)
	assert.Equal(t, -1, table.Total)

	var buf bytes.Buffer
	require.NoError(t, c.ExportDataUnit(ctx, "execution:1", 0, req, "csv", &buf))
	assert.Equal(t, "s,name\r\nhttp://example.org/alice,Alice\r\n", buf.String())

	_, err = c.QueryDataUnit(ctx, "execution:1", 7, req)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "not json")
}
