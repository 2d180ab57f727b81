package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgo.org/unifiedviews/internal/browse"
	"evalgo.org/unifiedviews/internal/sparql"
	"evalgo.org/unifiedviews/internal/triplestore"
)

var (
	queryLimit    int
	queryOffset   int
	queryCount    bool
	queryGraphs   []string
	queryFilters  []string
	queryPrefixes []string
	queryFormat   string
)

var queryCmd = &cobra.Command{
	Use:   "query [query | @file | -]",
	Short: "Run a SPARQL query against the configured triple store",
	Long: `Run a SELECT, CONSTRUCT or DESCRIBE query against the configured SPARQL
endpoint and print one page of the result.

The query is given inline, read from a file with @path, or read from stdin
with "-". Column filters use the forms var~text (contains), var=text
(equals), var=~regex and var@lang.

Examples:
  unifiedviews query 'SELECT * WHERE { ?s ?p ?o }' --limit 10
  unifiedviews query @people.rq --filter name~alice --count
  unifiedviews query 'CONSTRUCT WHERE { ?s ?p ?o }' --graph http://example.org/g --format turtle
  echo 'SELECT ?s WHERE { ?s a foaf:Person }' | unifiedviews query - --prefix foaf=http://xmlns.com/foaf/0.1/`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 20, "rows per page (negative for all)")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "rows to skip")
	queryCmd.Flags().BoolVar(&queryCount, "count", false, "also print the total number of results")
	queryCmd.Flags().StringArrayVar(&queryGraphs, "graph", nil, "restrict the query to a named graph (repeatable)")
	queryCmd.Flags().StringArrayVar(&queryFilters, "filter", nil, "column filter (repeatable)")
	queryCmd.Flags().StringArrayVar(&queryPrefixes, "prefix", nil, "namespace prefix name=uri (repeatable)")
	queryCmd.Flags().StringVar(&queryFormat, "format", "table", "output format (table, csv, json, ntriples, turtle, jsonld)")
}

// readQuery resolves the query argument.
func readQuery(arg string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	switch {
	case arg == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		data, err = os.ReadFile(arg[1:])
	default:
		return arg, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read query: %w", err)
	}
	return string(data), nil
}

func parsePrefixes(specs []string) (map[string]string, error) {
	prefixes := make(map[string]string, len(specs))
	for _, spec := range specs {
		name, uri, ok := strings.Cut(spec, "=")
		if !ok || name == "" || uri == "" {
			return nil, fmt.Errorf("invalid prefix %q: expected name=uri", spec)
		}
		prefixes[name] = uri
	}
	return prefixes, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	text, err := readQuery(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	prefixes, err := parsePrefixes(queryPrefixes)
	if err != nil {
		return err
	}
	def := triplestore.QueryDefinition{Query: text, Graphs: queryGraphs, Prefixes: prefixes}
	for _, expr := range queryFilters {
		f, err := sparql.ParseFilter(expr)
		if err != nil {
			return err
		}
		def.Filters = append(def.Filters, f)
	}

	logger := newLogger("query")
	client, err := openTripleStore(cfg, logger)
	if err != nil {
		return err
	}
	pager := triplestore.NewPager(client, cfg.TripleStore, logger, nil)

	ctx, cancel := queryContext(cmd.Context())
	defer cancel()

	page, err := pager.Page(ctx, def, queryOffset, queryLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if queryFormat != "table" {
		if err := browse.WritePage(out, page, browse.Format(queryFormat), prefixes); err != nil {
			return err
		}
	} else {
		printTable(out, browse.NewTable(page, prefixes))
	}

	if queryCount {
		total, err := pager.Size(ctx, def)
		if err != nil {
			return err
		}
		if queryFormat == "table" {
			fmt.Fprintf(out, "\nTotal: %d\n", total)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "Total: %d\n", total)
		}
	}
	return nil
}

// queryContext bounds a page and its count by twice the endpoint timeout.
func queryContext(parent context.Context) (context.Context, context.CancelFunc) {
	if cfg.TripleStore.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, 2*cfg.TripleStore.Timeout)
}

func printTable(out io.Writer, t *browse.Table) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(t.Columns, "\t")))
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = c.Display
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d rows from offset %d\n", len(t.Rows), t.Offset)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
