package triplestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/knakk/rdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/logging"
	"evalgo.org/unifiedviews/internal/sparql"
)

type fakeClient struct {
	mu         sync.Mutex
	selects    []string
	constructs []string
	result     *Result
	triples    []rdf.Triple
	err        error
}

func (f *fakeClient) Select(_ context.Context, query string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeClient) Construct(_ context.Context, query string) ([]rdf.Triple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructs = append(f.constructs, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.triples, nil
}

func (f *fakeClient) Ping(context.Context) error { return f.err }

func iri(t *testing.T, s string) rdf.IRI {
	t.Helper()
	v, err := rdf.NewIRI(s)
	require.NoError(t, err)
	return v
}

func literal(t *testing.T, v string) rdf.Literal {
	t.Helper()
	l, err := rdf.NewLiteral(v)
	require.NoError(t, err)
	return l
}

func langLiteral(t *testing.T, v, lang string) rdf.Literal {
	t.Helper()
	l, err := rdf.NewLangLiteral(v, lang)
	require.NoError(t, err)
	return l
}

func testPager(client Client, ttl time.Duration) *Pager {
	return NewPager(client, config.TripleStoreConfig{CountCacheTTL: ttl}, logging.Discard(), nil)
}

func TestPagerSelectPage(t *testing.T) {
	fc := &fakeClient{result: &Result{Vars: []string{"s"}}}
	p := testPager(fc, time.Minute)

	def := QueryDefinition{
		Query:  "SELECT ?s WHERE { ?s ex:p ?o }",
		Graphs: []string{"http://g/1"},
		Filters: []sparql.Filter{
			{Variable: "s", Value: "x", Mode: sparql.FilterEquals},
		},
		Prefixes: map[string]string{"ex": "http://example.org/"},
	}
	page, err := p.Page(context.Background(), def, 20, 10)
	require.NoError(t, err)

	assert.Equal(t, sparql.Select, page.Type)
	assert.Equal(t, []string{"s"}, page.Vars)
	assert.Equal(t, 20, page.Offset)
	require.Len(t, fc.selects, 1)
	assert.Equal(t, "PREFIX ex: <http://example.org/>\n"+
		`SELECT ?s FROM <http://g/1> WHERE { ?s ex:p ?o FILTER(STR(?s) = "x") } LIMIT 10 OFFSET 20`, fc.selects[0])
}

func TestPagerSelectVarsFallback(t *testing.T) {
	fc := &fakeClient{result: &Result{}}
	p := testPager(fc, 0)

	page, err := p.Page(context.Background(), QueryDefinition{Query: "SELECT * WHERE { ?s ?p ?o }"}, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "p", "o"}, page.Vars)
	assert.Equal(t, 0, page.Len())
}

func TestPagerSizeSelectCached(t *testing.T) {
	fc := &fakeClient{result: &Result{
		Vars: []string{"count"},
		Rows: []map[string]rdf.Term{{"count": literal(t, "42")}},
	}}
	p := testPager(fc, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	def := QueryDefinition{Query: "SELECT ?s WHERE { ?s ?p ?o }", Graphs: []string{"http://g/1"}}
	size, err := p.Size(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, 42, size)
	require.Len(t, fc.selects, 1)
	assert.Equal(t, "SELECT (COUNT(*) AS ?count) FROM <http://g/1> WHERE {\nSELECT ?s WHERE { ?s ?p ?o }\n}", fc.selects[0])

	size, err = p.Size(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, 42, size)
	assert.Len(t, fc.selects, 1, "served from cache")

	now = now.Add(2 * time.Minute)
	_, err = p.Size(context.Background(), def)
	require.NoError(t, err)
	assert.Len(t, fc.selects, 2, "expired entry is refreshed")

	p.Invalidate()
	_, err = p.Size(context.Background(), def)
	require.NoError(t, err)
	assert.Len(t, fc.selects, 3)
}

func TestPagerSizeBadCount(t *testing.T) {
	fc := &fakeClient{result: &Result{Rows: []map[string]rdf.Term{{"other": literal(t, "1")}}}}
	p := testPager(fc, 0)

	_, err := p.Size(context.Background(), QueryDefinition{Query: "SELECT ?s WHERE { ?s ?p ?o }"})
	assert.ErrorIs(t, err, ErrQueryFailed)

	fc.result = &Result{}
	size, err := p.Size(context.Background(), QueryDefinition{Query: "SELECT ?s WHERE { ?s ?p ?o }"})
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestPagerConstruct(t *testing.T) {
	a, b := iri(t, "http://ex/a"), iri(t, "http://ex/label")
	fc := &fakeClient{triples: []rdf.Triple{
		{Subj: a, Pred: b, Obj: langLiteral(t, "Praha", "cs")},
		{Subj: a, Pred: b, Obj: langLiteral(t, "Prague", "en")},
		{Subj: a, Pred: b, Obj: literal(t, "Brno")},
	}}
	p := testPager(fc, time.Minute)

	def := QueryDefinition{
		Query:   "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }",
		Graphs:  []string{"http://g/1"},
		Filters: []sparql.Filter{{Variable: "object", Value: "pra"}},
	}
	size, err := p.Size(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	page, err := p.Page(context.Background(), def, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, TripleColumns, page.Vars)
	require.Equal(t, 1, page.Len())
	value, lang := TermValue(page.Triples[0].Obj)
	assert.Equal(t, "Prague", value)
	assert.Equal(t, "en", lang)

	require.Len(t, fc.constructs, 1, "graph is iterated once while cached")
	assert.Equal(t, "CONSTRUCT { ?s ?p ?o } FROM <http://g/1> WHERE { ?s ?p ?o }", fc.constructs[0])

	_, err = p.Page(context.Background(), QueryDefinition{
		Query:   "DESCRIBE <http://ex/a>",
		Filters: []sparql.Filter{{Variable: "label", Value: "x"}},
	}, 0, 10)
	assert.ErrorIs(t, err, sparql.ErrUnknownVariable)
}

func TestPagerErrors(t *testing.T) {
	boom := errors.New("boom")
	p := testPager(&fakeClient{err: boom}, time.Minute)

	_, err := p.Page(context.Background(), QueryDefinition{Query: "SELECT ?s WHERE { ?s ?p ?o }"}, 0, 10)
	assert.ErrorIs(t, err, boom)

	_, err = p.Page(context.Background(), QueryDefinition{Query: "ASK { ?s ?p ?o }"}, 0, 10)
	assert.ErrorIs(t, err, sparql.ErrUnsupportedQuery)

	_, err = p.Size(context.Background(), QueryDefinition{
		Query:   "SELECT ?s WHERE { ?s ?p ?o }",
		Filters: []sparql.Filter{{Variable: "o", Value: "x"}},
	})
	assert.ErrorIs(t, err, sparql.ErrUnknownVariable)
}

func TestWindow(t *testing.T) {
	triples := make([]rdf.Triple, 5)
	tests := []struct {
		offset, limit, want int
	}{
		{0, 2, 2},
		{4, 2, 1},
		{5, 2, 0},
		{2, -1, 3},
		{0, 0, 0},
	}
	for _, tt := range tests {
		assert.Len(t, window(triples, tt.offset, tt.limit), tt.want)
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	p := testPager(&fakeClient{}, time.Hour)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxCacheEntries+5; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		p.now = func() time.Time { return now }
		p.store(string(rune('a'+i)), &cacheEntry{size: i})
	}
	assert.Len(t, p.cache, maxCacheEntries)
	_, ok := p.cache["a"]
	assert.False(t, ok)
}
