package browse

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/knakk/rdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/logging"
	"evalgo.org/unifiedviews/internal/sparql"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/internal/triplestore"
	"evalgo.org/unifiedviews/models"
)

type fakeClient struct {
	mu      sync.Mutex
	queries []string
	result  *triplestore.Result
	triples []rdf.Triple
}

func (f *fakeClient) Select(_ context.Context, q string) (*triplestore.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.result, nil
}

func (f *fakeClient) Construct(_ context.Context, q string) ([]rdf.Triple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.triples, nil
}

func (f *fakeClient) Ping(context.Context) error { return nil }

func mustIRI(t *testing.T, s string) rdf.IRI {
	t.Helper()
	v, err := rdf.NewIRI(s)
	require.NoError(t, err)
	return v
}

func mustLiteral(t *testing.T, v, lang string) rdf.Literal {
	t.Helper()
	var l rdf.Literal
	var err error
	if lang != "" {
		l, err = rdf.NewLangLiteral(v, lang)
	} else {
		l, err = rdf.NewLiteral(v)
	}
	require.NoError(t, err)
	return l
}

type fixture struct {
	store   *storage.Memory
	client  *fakeClient
	service *Service
	exec    *models.Execution
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	require.NoError(t, store.SavePrefix(models.NewNamespacePrefix("ex", "http://example.org/")))

	exec := models.NewExecution("pipeline:1", "admin")
	exec.DataUnits = []models.DataUnitInfo{
		{NodeID: "n1", Name: "output", Type: models.DataUnitRDF, Direction: "output", GraphIRI: "http://graphs/out"},
		{NodeID: "n1", Name: "files", Type: models.DataUnitFile, Direction: "output"},
		{NodeID: "n2", Name: "input", Type: models.DataUnitRDF, Direction: "input"},
	}
	require.NoError(t, store.SaveExecution(exec))

	client := &fakeClient{}
	cfg := config.TripleStoreConfig{
		DefaultPageSize: 20,
		MaxPageSize:     100,
		CountCacheTTL:   time.Minute,
		GraphPrefix:     "http://unifiedviews.eu/resource/dataunit/",
	}
	pager := triplestore.NewPager(client, cfg, logging.Discard(), nil)
	service, err := NewService(store, pager, cfg, logging.Discard())
	require.NoError(t, err)
	return &fixture{store: store, client: client, service: service, exec: exec}
}

func TestResolve(t *testing.T) {
	f := newFixture(t)

	du, err := f.service.Resolve(f.exec.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "http://graphs/out", du.Graph)
	assert.Equal(t, "output", du.Info.Name)

	du, err = f.service.Resolve(f.exec.ID, 2)
	require.NoError(t, err)
	id := strings.TrimPrefix(f.exec.ID, "execution:")
	assert.Equal(t, "http://unifiedviews.eu/resource/dataunit/exec_"+id+"/dpu_n2/du_2", du.Graph)

	_, err = f.service.Resolve(f.exec.ID, 1)
	assert.ErrorIs(t, err, ErrNotRDF)

	_, err = f.service.Resolve(f.exec.ID, 7)
	assert.ErrorIs(t, err, ErrDataUnitNotFound)

	_, err = f.service.Resolve("execution:missing", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPageDefaultQuery(t *testing.T) {
	f := newFixture(t)
	f.client.result = &triplestore.Result{
		Vars: []string{"s", "p", "o"},
		Rows: []map[string]rdf.Term{{
			"s": mustIRI(t, "http://example.org/prague"),
			"p": mustIRI(t, "http://www.w3.org/2000/01/rdf-schema#label"),
			"o": mustLiteral(t, "Praha", "cs"),
		}},
	}

	table, err := f.service.Page(context.Background(), Request{ExecutionID: f.exec.ID, Limit: 500})
	require.NoError(t, err)

	require.Len(t, f.client.queries, 1)
	assert.Equal(t, "SELECT ?s ?p ?o FROM <http://graphs/out> WHERE { ?s ?p ?o } LIMIT 100", f.client.queries[0])

	assert.Equal(t, sparql.Select, table.Type)
	assert.Equal(t, []string{"s", "p", "o"}, table.Columns)
	assert.Equal(t, -1, table.Total)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "ex:prague", table.Rows[0][0].Display)
	assert.Equal(t, CellLiteral, table.Rows[0][2].Kind)
	assert.Equal(t, "Praha@cs", table.Rows[0][2].Display)
}

func TestPageWithCount(t *testing.T) {
	f := newFixture(t)
	f.client.result = &triplestore.Result{
		Vars: []string{"count"},
		Rows: []map[string]rdf.Term{{"count": mustLiteral(t, "7", ""), "count1": mustLiteral(t, "7", "")}},
	}

	table, err := f.service.Page(context.Background(), Request{
		ExecutionID: f.exec.ID,
		Query:       "SELECT ?count WHERE { ?s ?p ?count }",
		Count:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, table.Total)
	assert.Equal(t, 20, table.Limit)

	n, err := f.service.Count(context.Background(), Request{ExecutionID: f.exec.ID, Query: "SELECT ?count WHERE { ?s ?p ?count }"})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Len(t, f.client.queries, 2, "second count served from cache")
	assert.Contains(t, f.client.queries[1], "COUNT(*) AS ?count1")
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	s := mustIRI(t, "http://example.org/prague")
	label := mustIRI(t, "http://www.w3.org/2000/01/rdf-schema#label")
	f.client.triples = []rdf.Triple{{Subj: s, Pred: label, Obj: mustLiteral(t, "Praha", "cs")}}
	f.client.result = &triplestore.Result{
		Vars: []string{"s", "o"},
		Rows: []map[string]rdf.Term{{"s": s, "o": mustLiteral(t, "a,b", "")}},
	}
	graphReq := Request{ExecutionID: f.exec.ID, Query: "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }"}
	selectReq := Request{ExecutionID: f.exec.ID, Query: "SELECT ?s ?o WHERE { ?s ?p ?o }"}

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, f.service.Export(context.Background(), selectReq, FormatCSV, &buf))
		assert.Equal(t, "s,o\nhttp://example.org/prague,\"a,b\"\n", buf.String())
	})

	t.Run("sparql json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, f.service.Export(context.Background(), selectReq, FormatSPARQLJSON, &buf))
		var out jsonResults
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, []string{"s", "o"}, out.Head.Vars)
		require.Len(t, out.Results.Bindings, 1)
		assert.Equal(t, "uri", out.Results.Bindings[0]["s"].Type)
		assert.Equal(t, "a,b", out.Results.Bindings[0]["o"].Value)
	})

	t.Run("ntriples", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, f.service.Export(context.Background(), graphReq, FormatNTriples, &buf))
		assert.Contains(t, buf.String(), `<http://example.org/prague> <http://www.w3.org/2000/01/rdf-schema#label> "Praha"@cs .`)
	})

	t.Run("jsonld", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, f.service.Export(context.Background(), graphReq, FormatJSONLD, &buf))
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Contains(t, doc, "@context")
		assert.Contains(t, buf.String(), "ex:prague")
	})

	t.Run("format must fit the result", func(t *testing.T) {
		var buf bytes.Buffer
		err := f.service.Export(context.Background(), graphReq, FormatCSV, &buf)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		err = f.service.Export(context.Background(), selectReq, Format("xml"), &buf)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestPageSize(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 20, f.service.PageSize(0))
	assert.Equal(t, 50, f.service.PageSize(50))
	assert.Equal(t, 100, f.service.PageSize(1000))
}

func TestCannedQueries(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"classes", "graph", "instances", "properties", "resource", "triples"}, f.service.CannedQueries())

	q, err := f.service.CannedQuery("resource", map[string]string{"Resource": "http://example.org/prague"})
	require.NoError(t, err)
	assert.Equal(t, "DESCRIBE <http://example.org/prague>", q)
	assert.Equal(t, sparql.Describe, sparql.Classify(q))

	q, err = f.service.CannedQuery("classes", nil)
	require.NoError(t, err)
	assert.Equal(t, sparql.Select, sparql.Classify(q))

	_, err = f.service.CannedQuery("resource", map[string]string{"Resource": "http://x> } DROP ALL {"})
	assert.ErrorIs(t, err, sparql.ErrMalformedQuery)

	_, err = f.service.CannedQuery("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownQuery)
}

func TestFormatsFor(t *testing.T) {
	var names []Format
	for _, f := range FormatsFor(sparql.Construct) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []Format{FormatJSONLD, FormatNTriples, FormatTurtle}, names)
	assert.Len(t, FormatsFor(sparql.Select), 2)
}
