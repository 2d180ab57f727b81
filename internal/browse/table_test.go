package browse

import (
	"testing"

	"github.com/knakk/rdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/unifiedviews/internal/sparql"
	"evalgo.org/unifiedviews/internal/triplestore"
)

func TestShorten(t *testing.T) {
	prefixes := map[string]string{
		"ex":   "http://example.org/",
		"exv":  "http://example.org/vocab#",
		"dup":  "http://example.org/",
		"rdfs": "http://www.w3.org/2000/01/rdf-schema#",
	}
	tests := []struct {
		iri  string
		want string
	}{
		{"http://example.org/prague", "dup:prague"},
		{"http://example.org/vocab#City", "exv:City"},
		{"http://www.w3.org/2000/01/rdf-schema#label", "rdfs:label"},
		{"http://example.org/a/b", "http://example.org/a/b"},
		{"http://other.org/x", "http://other.org/x"},
		{"http://example.org/", "dup:"},
	}
	for _, tt := range tests {
		t.Run(tt.iri, func(t *testing.T) {
			assert.Equal(t, tt.want, Shorten(tt.iri, prefixes))
		})
	}
}

func TestFormatTerm(t *testing.T) {
	prefixes := map[string]string{"xsd": "http://www.w3.org/2001/XMLSchema#"}

	typed, err := rdf.NewLiteral(42)
	require.NoError(t, err)
	cell := FormatTerm(typed, prefixes)
	assert.Equal(t, CellLiteral, cell.Kind)
	assert.Equal(t, "42", cell.Value)
	assert.Equal(t, "42^^xsd:integer", cell.Display)

	plain, err := rdf.NewLiteral("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", FormatTerm(plain, prefixes).Display)

	blank, err := rdf.NewBlank("b0")
	require.NoError(t, err)
	cell = FormatTerm(blank, prefixes)
	assert.Equal(t, CellBlank, cell.Kind)
	assert.Equal(t, "_:b0", cell.Display)

	assert.Equal(t, CellEmpty, FormatTerm(nil, prefixes).Kind)
}

func TestNewTableFromTriples(t *testing.T) {
	s, err := rdf.NewIRI("http://example.org/a")
	require.NoError(t, err)
	o, err := rdf.NewLangLiteral("A", "en")
	require.NoError(t, err)

	page := &triplestore.Page{
		Type:    sparql.Describe,
		Vars:    triplestore.TripleColumns,
		Offset:  10,
		Limit:   5,
		Triples: []rdf.Triple{{Subj: s, Pred: s, Obj: o}},
	}
	table := NewTable(page, map[string]string{"ex": "http://example.org/"})
	assert.Equal(t, []string{"subject", "predicate", "object"}, table.Columns)
	assert.Equal(t, 10, table.Offset)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "ex:a", table.Rows[0][1].Display)
	assert.Equal(t, "A@en", table.Rows[0][2].Display)
}
