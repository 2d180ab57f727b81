package sparql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginate(t *testing.T) {
	const base = "SELECT ?s WHERE { ?s ?p ?o }"
	tests := []struct {
		name   string
		query  string
		offset int
		limit  int
		want   string
	}{
		{"first page", base, 0, 20, base + " LIMIT 20"},
		{"later page", base, 10, 5, base + " LIMIT 5 OFFSET 10"},
		{"open ended", base, 5, -1, base + " OFFSET 5"},
		{"nothing to add", base, 0, -1, base},
		{"negative offset", base, -3, 5, base + " LIMIT 5"},
		{"window inside existing", base + " LIMIT 100 OFFSET 50", 10, 20, base + " LIMIT 20 OFFSET 60"},
		{"window truncated by existing limit", base + " LIMIT 25", 20, 10, base + " LIMIT 5 OFFSET 20"},
		{"window past existing limit", base + " LIMIT 10", 20, 5, base + " LIMIT 0 OFFSET 20"},
		{"offset before limit", base + " OFFSET 5 LIMIT 10", 2, 3, base + " LIMIT 3 OFFSET 7"},
		{"existing limit with open window", base + " LIMIT 30", 10, -1, base + " LIMIT 20 OFFSET 10"},
		{"after order by", base + " ORDER BY ?s", 0, 10, base + " ORDER BY ?s LIMIT 10"},
		{"before trailing comment", base + " # all", 0, 10, base + " LIMIT 10 # all"},
		{"before values block", base + " VALUES ?s { <http://a> }", 0, 10, base + " LIMIT 10 VALUES ?s { <http://a> }"},
		{"keyword in literal untouched", `SELECT ?s WHERE { ?s ?p "LIMIT 5" }`, 0, 10, `SELECT ?s WHERE { ?s ?p "LIMIT 5" } LIMIT 10`},
		{"sub-select limit untouched", "SELECT ?s WHERE { { SELECT ?s WHERE { ?s ?p ?o } LIMIT 3 } }", 0, 10, "SELECT ?s WHERE { { SELECT ?s WHERE { ?s ?p ?o } LIMIT 3 } } LIMIT 10"},
		{"describe", "DESCRIBE <http://a>", 0, 10, "DESCRIBE <http://a> LIMIT 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Paginate(tt.query, tt.offset, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			_, err = Parse(got)
			assert.NoError(t, err)
		})
	}

	_, err := Paginate("ASK {}", 0, 10)
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
}

func TestAddFilters(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		filters []Filter
		want    string
	}{
		{
			name:    "contains",
			query:   "SELECT ?s ?o WHERE { ?s ?p ?o }",
			filters: []Filter{{Variable: "o", Value: "Prague", Mode: FilterContains}},
			want:    `SELECT ?s ?o WHERE { ?s ?p ?o FILTER(CONTAINS(LCASE(STR(?o)), "prague")) }`,
		},
		{
			name:  "two filters",
			query: "SELECT ?s ?o WHERE { ?s ?p ?o }",
			filters: []Filter{
				{Variable: "?s", Value: "http://a", Mode: FilterEquals},
				{Variable: "o", Value: "en", Mode: FilterLang},
			},
			want: `SELECT ?s ?o WHERE { ?s ?p ?o FILTER(STR(?s) = "http://a") FILTER(LANGMATCHES(LANG(?o), "en")) }`,
		},
		{
			name:    "no blank before closing brace",
			query:   "SELECT * WHERE {?s ?p ?o}",
			filters: []Filter{{Variable: "p", Value: "label$", Mode: FilterRegex}},
			want:    `SELECT * WHERE {?s ?p ?o FILTER(REGEX(STR(?p), "label$", "i")) }`,
		},
		{
			name:    "escaped value",
			query:   "SELECT ?o WHERE { ?s ?p ?o }",
			filters: []Filter{{Variable: "o", Value: `say "hi"\`, Mode: FilterEquals}},
			want:    `SELECT ?o WHERE { ?s ?p ?o FILTER(STR(?o) = "say \"hi\"\\") }`,
		},
		{
			name:    "sub-select is wrapped",
			query:   "SELECT ?s WHERE { SELECT ?s WHERE { ?s ?p ?o } }",
			filters: []Filter{{Variable: "s", Value: "x", Mode: FilterEquals}},
			want:    `SELECT ?s WHERE { { SELECT ?s WHERE { ?s ?p ?o } } FILTER(STR(?s) = "x") }`,
		},
		{
			name:  "no filters",
			query: "SELECT ?s WHERE { ?s ?p ?o }",
			want:  "SELECT ?s WHERE { ?s ?p ?o }",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddFilters(tt.query, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			_, err = Parse(got)
			assert.NoError(t, err)
		})
	}
}

func TestAddFiltersErrors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		filter Filter
		err    error
	}{
		{"unknown variable", "SELECT ?s WHERE { ?s ?p ?o }", Filter{Variable: "o", Value: "x"}, ErrUnknownVariable},
		{"alias", "SELECT (STR(?o) AS ?label) WHERE { ?s ?p ?o }", Filter{Variable: "label", Value: "x"}, ErrUnsupportedQuery},
		{"construct", "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }", Filter{Variable: "o", Value: "x"}, ErrUnsupportedQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AddFilters(tt.query, []Filter{tt.filter})
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err := AddFilters("SELECT ?o WHERE { ?s ?p ?o }", []Filter{{Variable: "o", Value: "(", Mode: FilterRegex}})
	assert.Error(t, err)
}

func TestScopeToGraphs(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		graphs []string
		want   string
	}{
		{"select", "SELECT ?s WHERE { ?s ?p ?o }", []string{"http://g/1"}, "SELECT ?s FROM <http://g/1> WHERE { ?s ?p ?o }"},
		{"two graphs", "SELECT ?s { ?s ?p ?o }", []string{"http://g/1", "http://g/2"}, "SELECT ?s FROM <http://g/1> FROM <http://g/2> { ?s ?p ?o }"},
		{"construct", "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }", []string{"http://g/1"}, "CONSTRUCT { ?s ?p ?o } FROM <http://g/1> WHERE { ?s ?p ?o }"},
		{"describe", "DESCRIBE <http://a>", []string{"http://g/1"}, "DESCRIBE <http://a> FROM <http://g/1>"},
		{"existing dataset wins", "SELECT ?s FROM <http://mine> WHERE { ?s ?p ?o }", []string{"http://g/1"}, "SELECT ?s FROM <http://mine> WHERE { ?s ?p ?o }"},
		{"no graphs", "SELECT ?s WHERE { ?s ?p ?o }", nil, "SELECT ?s WHERE { ?s ?p ?o }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScopeToGraphs(tt.query, tt.graphs...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ScopeToGraphs("SELECT ?s WHERE { ?s ?p ?o }", "http://bad> graph")
	assert.ErrorIs(t, err, ErrMalformedQuery)
}

func TestCountQuery(t *testing.T) {
	query := "PREFIX foaf: <http://xmlns.com/foaf/0.1/>\n" +
		"SELECT ?name FROM <http://g> WHERE { ?x foaf:name ?name } LIMIT 10"

	got, countVar, err := CountQuery(query)
	require.NoError(t, err)
	assert.Equal(t, "count", countVar)
	assert.Equal(t, "PREFIX foaf: <http://xmlns.com/foaf/0.1/>\n"+
		"SELECT (COUNT(*) AS ?count) FROM <http://g> WHERE {\n"+
		"SELECT ?name WHERE { ?x foaf:name ?name } LIMIT 10\n}", got)

	q, err := Parse(got)
	require.NoError(t, err)
	assert.Equal(t, Select, q.Type)
	assert.Equal(t, []string{"count"}, q.Projection)
	assert.Len(t, q.Dataset, 1)
	assert.Nil(t, q.Limit)
}

func TestCountQueryVariableClash(t *testing.T) {
	_, countVar, err := CountQuery("SELECT ?count WHERE { ?s <http://p> ?count . ?s <http://q> ?count1 }")
	require.NoError(t, err)
	assert.Equal(t, "count2", countVar)

	_, _, err = CountQuery("CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }")
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
}

func TestWithPrefixes(t *testing.T) {
	known := map[string]string{
		"foaf": "http://xmlns.com/foaf/0.1/",
		"dc":   "http://purl.org/dc/elements/1.1/",
		"owl":  "http://www.w3.org/2002/07/owl#",
	}
	query := "PREFIX dc: <http://example.org/dc#>\n" +
		"SELECT ?n WHERE { ?x foaf:name ?n . ?x dc:title ?t . ?x ex:foo _:b }"

	got, err := WithPrefixes(query, known)
	require.NoError(t, err)
	assert.Equal(t, "PREFIX foaf: <http://xmlns.com/foaf/0.1/>\n"+query, got)

	plain := "SELECT ?s WHERE { ?s ?p ?o }"
	got, err = WithPrefixes(plain, known)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}
