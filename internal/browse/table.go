package browse

import (
	"strings"

	"github.com/knakk/rdf"

	"evalgo.org/unifiedviews/internal/sparql"
	"evalgo.org/unifiedviews/internal/triplestore"
)

const xsdString = "http://www.w3.org/2001/XMLSchema#string"

// CellKind is the kind of RDF term shown in a cell.
type CellKind string

const (
	CellIRI     CellKind = "iri"
	CellLiteral CellKind = "literal"
	CellBlank   CellKind = "blank"
	CellEmpty   CellKind = "empty"
)

// Cell is a formatted RDF term.
type Cell struct {
	Kind     CellKind `json:"kind"`
	Value    string   `json:"value"`
	Display  string   `json:"display"`
	Lang     string   `json:"lang,omitempty"`
	Datatype string   `json:"datatype,omitempty"`
}

// Table is one page of a result laid out for display.
type Table struct {
	Type    sparql.QueryType `json:"type"`
	Columns []string         `json:"columns"`
	Rows    [][]Cell         `json:"rows"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`

	// Total is the result size when it was requested, -1 otherwise.
	Total int `json:"total"`
}

// NewTable formats a page using prefixes to shorten IRIs.
func NewTable(page *triplestore.Page, prefixes map[string]string) *Table {
	t := &Table{
		Type:    page.Type,
		Columns: page.Vars,
		Offset:  page.Offset,
		Limit:   page.Limit,
		Total:   -1,
	}
	if page.Type == sparql.Select {
		t.Rows = make([][]Cell, 0, len(page.Rows))
		for _, row := range page.Rows {
			cells := make([]Cell, len(page.Vars))
			for i, v := range page.Vars {
				cells[i] = FormatTerm(row[v], prefixes)
			}
			t.Rows = append(t.Rows, cells)
		}
		return t
	}

	t.Rows = make([][]Cell, 0, len(page.Triples))
	for _, tr := range page.Triples {
		t.Rows = append(t.Rows, []Cell{
			FormatTerm(tr.Subj, prefixes),
			FormatTerm(tr.Pred, prefixes),
			FormatTerm(tr.Obj, prefixes),
		})
	}
	return t
}

// FormatTerm renders a term. Unbound variables yield an empty cell.
func FormatTerm(term rdf.Term, prefixes map[string]string) Cell {
	switch t := term.(type) {
	case nil:
		return Cell{Kind: CellEmpty}
	case rdf.IRI:
		v := t.String()
		return Cell{Kind: CellIRI, Value: v, Display: Shorten(v, prefixes)}
	case rdf.Blank:
		v := t.String()
		if !strings.HasPrefix(v, "_:") {
			v = "_:" + v
		}
		return Cell{Kind: CellBlank, Value: v, Display: v}
	case rdf.Literal:
		c := Cell{Kind: CellLiteral, Value: t.String(), Display: t.String(), Lang: t.Lang()}
		switch dt := t.DataType.String(); {
		case c.Lang != "":
			c.Display += "@" + c.Lang
		case dt != "" && dt != xsdString:
			c.Datatype = dt
			c.Display += "^^" + Shorten(dt, prefixes)
		}
		return c
	}
	v := term.String()
	return Cell{Kind: CellLiteral, Value: v, Display: v}
}

// Shorten replaces the longest matching namespace of iri by its prefix, the
// alphabetically first one on ties. IRIs whose remainder would contain '/',
// '#' or '?' are left alone.
func Shorten(iri string, prefixes map[string]string) string {
	best, bestNS := "", ""
	for name, ns := range prefixes {
		if ns == "" || !strings.HasPrefix(iri, ns) || len(ns) < len(bestNS) {
			continue
		}
		if len(ns) == len(bestNS) && name > best {
			continue
		}
		local := iri[len(ns):]
		if strings.ContainsAny(local, "/#?") {
			continue
		}
		best, bestNS = name, ns
	}
	if bestNS == "" {
		return iri
	}
	return best + ":" + iri[len(bestNS):]
}
