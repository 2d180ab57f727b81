package browse

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/knakk/rdf"
	"github.com/piprate/json-gold/ld"

	"evalgo.org/unifiedviews/internal/sparql"
	"evalgo.org/unifiedviews/internal/triplestore"
)

// Format is an export serialization.
type Format string

const (
	FormatCSV        Format = "csv"
	FormatSPARQLJSON Format = "json"
	FormatNTriples   Format = "ntriples"
	FormatTurtle     Format = "turtle"
	FormatJSONLD     Format = "jsonld"
)

// FormatInfo describes an export format.
type FormatInfo struct {
	Name      Format
	MIMEType  string
	Extension string

	// Graph is true for formats of CONSTRUCT and DESCRIBE results.
	Graph bool
}

// Formats lists the export formats by name.
var Formats = map[Format]FormatInfo{
	FormatCSV:        {Name: FormatCSV, MIMEType: "text/csv", Extension: ".csv"},
	FormatSPARQLJSON: {Name: FormatSPARQLJSON, MIMEType: "application/sparql-results+json", Extension: ".srj"},
	FormatNTriples:   {Name: FormatNTriples, MIMEType: "application/n-triples", Extension: ".nt", Graph: true},
	FormatTurtle:     {Name: FormatTurtle, MIMEType: "text/turtle", Extension: ".ttl", Graph: true},
	FormatJSONLD:     {Name: FormatJSONLD, MIMEType: "application/ld+json", Extension: ".jsonld", Graph: true},
}

// FormatsFor returns the export formats applicable to a query type, sorted by
// name.
func FormatsFor(t sparql.QueryType) []FormatInfo {
	var out []FormatInfo
	for _, f := range Formats {
		if f.Graph == (t != sparql.Select) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WritePage serializes a full result in format f. prefixes become the JSON-LD
// context.
func WritePage(w io.Writer, page *triplestore.Page, f Format, prefixes map[string]string) error {
	info, ok := Formats[f]
	if !ok {
		return fmt.Errorf("%w: unknown export format %q", ErrUnsupportedFormat, f)
	}
	if info.Graph != (page.Type != sparql.Select) {
		return fmt.Errorf("%w: %s export of a %s result", ErrUnsupportedFormat, f, page.Type)
	}

	switch f {
	case FormatCSV:
		return writeCSV(w, page)
	case FormatSPARQLJSON:
		return writeSPARQLJSON(w, page)
	case FormatNTriples:
		return writeTriples(w, page.Triples, rdf.NTriples)
	case FormatTurtle:
		return writeTriples(w, page.Triples, rdf.Turtle)
	default:
		return writeJSONLD(w, page.Triples, prefixes)
	}
}

func writeCSV(w io.Writer, page *triplestore.Page) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(page.Vars); err != nil {
		return err
	}
	record := make([]string, len(page.Vars))
	for _, row := range page.Rows {
		for i, v := range page.Vars {
			record[i], _ = triplestore.TermValue(row[v])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonBinding struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

type jsonResults struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]jsonBinding `json:"bindings"`
	} `json:"results"`
}

func writeSPARQLJSON(w io.Writer, page *triplestore.Page) error {
	var out jsonResults
	out.Head.Vars = page.Vars
	out.Results.Bindings = make([]map[string]jsonBinding, 0, len(page.Rows))
	for _, row := range page.Rows {
		b := make(map[string]jsonBinding, len(row))
		for name, term := range row {
			switch t := term.(type) {
			case rdf.IRI:
				b[name] = jsonBinding{Type: "uri", Value: t.String()}
			case rdf.Blank:
				b[name] = jsonBinding{Type: "bnode", Value: t.String()}
			case rdf.Literal:
				jb := jsonBinding{Type: "literal", Value: t.String(), Lang: t.Lang()}
				if dt := t.DataType.String(); jb.Lang == "" && dt != "" && dt != xsdString {
					jb.Datatype = dt
				}
				b[name] = jb
			}
		}
		out.Results.Bindings = append(out.Results.Bindings, b)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeTriples(w io.Writer, triples []rdf.Triple, f rdf.Format) error {
	enc := rdf.NewTripleEncoder(w, f)
	if err := enc.EncodeAll(triples); err != nil {
		return err
	}
	return enc.Close()
}

func writeJSONLD(w io.Writer, triples []rdf.Triple, prefixes map[string]string) error {
	var nquads bytes.Buffer
	if err := writeTriples(&nquads, triples, rdf.NTriples); err != nil {
		return err
	}

	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.Format = "application/n-quads"
	doc, err := proc.FromRDF(nquads.String(), opts)
	if err != nil {
		return fmt.Errorf("failed to convert triples to JSON-LD: %w", err)
	}

	ldContext := make(map[string]interface{}, len(prefixes))
	for name, ns := range prefixes {
		ldContext[name] = ns
	}
	compacted, err := proc.Compact(doc, map[string]interface{}{"@context": ldContext}, ld.NewJsonLdOptions(""))
	if err != nil {
		return fmt.Errorf("failed to compact JSON-LD: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(compacted)
}
