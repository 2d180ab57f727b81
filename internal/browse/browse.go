// Package browse lets users query the RDF data units of an execution. It
// resolves a data unit to its named graph, runs paged queries against it and
// formats or exports the results.
package browse

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	ksparql "github.com/knakk/sparql"
	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/sparql"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/internal/triplestore"
	"evalgo.org/unifiedviews/models"
)

// DefaultQuery is shown when a data unit is opened.
const DefaultQuery = "SELECT ?s ?p ?o WHERE { ?s ?p ?o }"

var (
	// ErrDataUnitNotFound is returned for an index outside the execution's
	// data units.
	ErrDataUnitNotFound = errors.New("data unit not found")

	// ErrNotRDF is returned when a file or relational data unit is browsed.
	ErrNotRDF = errors.New("data unit is not an RDF data unit")

	// ErrUnsupportedFormat is returned for exports that do not fit the result.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrUnknownQuery is returned for canned query names not in the bank.
	ErrUnknownQuery = errors.New("unknown canned query")
)

//go:embed queries.sparql
var bankSource []byte

// Request identifies a query against one data unit.
type Request struct {
	ExecutionID string          `json:"-"`
	DataUnit    int             `json:"-"`
	Query       string          `json:"query"`
	Filters     []sparql.Filter `json:"filters,omitempty" validate:"dive"`
	Offset      int             `json:"offset" validate:"gte=0"`
	Limit       int             `json:"limit" validate:"gte=0"`
	Count       bool            `json:"count,omitempty"`
}

// Service runs browse requests.
type Service struct {
	store       storage.Store
	pager       *triplestore.Pager
	bank        ksparql.Bank
	graphPrefix string
	defaultSize int
	maxSize     int
	logger      *log.Logger
}

// NewService creates a browse service.
func NewService(store storage.Store, pager *triplestore.Pager, cfg config.TripleStoreConfig, logger *log.Logger) (*Service, error) {
	bank, err := ksparql.LoadBank(bytes.NewReader(bankSource))
	if err != nil {
		return nil, fmt.Errorf("failed to load canned queries: %w", err)
	}
	return &Service{
		store:       store,
		pager:       pager,
		bank:        bank,
		graphPrefix: cfg.GraphPrefix,
		defaultSize: cfg.DefaultPageSize,
		maxSize:     cfg.MaxPageSize,
		logger:      logger,
	}, nil
}

// DataUnit is a resolved RDF data unit.
type DataUnit struct {
	Execution *models.Execution
	Index     int
	Info      models.DataUnitInfo
	Graph     string
}

// Resolve finds data unit index of an execution and its graph IRI.
func (s *Service) Resolve(executionID string, index int) (*DataUnit, error) {
	exec, err := s.store.GetExecution(executionID)
	if err != nil {
		return nil, err
	}
	info := exec.DataUnit(index)
	if info == nil {
		return nil, fmt.Errorf("%w: execution %s has no data unit %d", ErrDataUnitNotFound, executionID, index)
	}
	if info.Type != models.DataUnitRDF {
		return nil, fmt.Errorf("%w: %s is a %s data unit", ErrNotRDF, info.Name, info.Type)
	}
	graph := info.GraphIRI
	if graph == "" {
		graph = s.GraphIRI(exec.ID, info.NodeID, index)
	}
	return &DataUnit{Execution: exec, Index: index, Info: *info, Graph: graph}, nil
}

// GraphIRI derives the graph of a data unit that did not record one.
func (s *Service) GraphIRI(executionID, nodeID string, index int) string {
	id := executionID
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		id = id[i+1:]
	}
	return s.graphPrefix + "exec_" + id + "/dpu_" + nodeID + "/du_" + strconv.Itoa(index)
}

// Prefixes returns the namespace prefixes as a name -> IRI map.
func (s *Service) Prefixes() (map[string]string, error) {
	prefixes, err := s.store.ListPrefixes()
	if err != nil {
		return nil, err
	}
	return models.PrefixMap(prefixes), nil
}

// Definition turns a request into a query definition scoped to the data
// unit's graph.
func (s *Service) Definition(req Request) (triplestore.QueryDefinition, *DataUnit, error) {
	du, err := s.Resolve(req.ExecutionID, req.DataUnit)
	if err != nil {
		return triplestore.QueryDefinition{}, nil, err
	}
	prefixes, err := s.Prefixes()
	if err != nil {
		return triplestore.QueryDefinition{}, nil, err
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = DefaultQuery
	}
	return triplestore.QueryDefinition{
		Query:    query,
		Graphs:   []string{du.Graph},
		Filters:  req.Filters,
		Prefixes: prefixes,
	}, du, nil
}

// PageSize clamps a requested page size to the configured bounds.
func (s *Service) PageSize(limit int) int {
	if limit <= 0 {
		return s.defaultSize
	}
	if s.maxSize > 0 && limit > s.maxSize {
		return s.maxSize
	}
	return limit
}

// Page runs one page of the request and formats it. With req.Count the
// result size is filled in too.
func (s *Service) Page(ctx context.Context, req Request) (*Table, error) {
	def, _, err := s.Definition(req)
	if err != nil {
		return nil, err
	}
	page, err := s.pager.Page(ctx, def, req.Offset, s.PageSize(req.Limit))
	if err != nil {
		return nil, err
	}
	table := NewTable(page, def.Prefixes)
	if req.Count {
		if table.Total, err = s.pager.Size(ctx, def); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// Count returns the size of the request's result.
func (s *Service) Count(ctx context.Context, req Request) (int, error) {
	def, _, err := s.Definition(req)
	if err != nil {
		return 0, err
	}
	return s.pager.Size(ctx, def)
}

// Export writes the whole result of the request in format f.
func (s *Service) Export(ctx context.Context, req Request, f Format, w io.Writer) error {
	def, du, err := s.Definition(req)
	if err != nil {
		return err
	}
	page, err := s.pager.All(ctx, def)
	if err != nil {
		return err
	}
	s.logger.Infof("Exporting %d results of data unit %s of execution %s as %s", page.Len(), du.Info.Name, du.Execution.ID, f)
	return WritePage(w, page, f, def.Prefixes)
}

// CannedQueries returns the names of the canned queries.
func (s *Service) CannedQueries() []string {
	names := make([]string, 0, len(s.bank))
	for name := range s.bank {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CannedQuery renders the canned query name with params.
func (s *Service) CannedQuery(name string, params map[string]string) (string, error) {
	if _, ok := s.bank[name]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQuery, name)
	}
	for k, v := range params {
		if strings.ContainsAny(v, "<>\"{}|^`\\ \t\n") {
			return "", fmt.Errorf("%w: invalid IRI for %s", sparql.ErrMalformedQuery, k)
		}
	}
	q, err := s.bank.Prepare(name, params)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(q), nil
}
