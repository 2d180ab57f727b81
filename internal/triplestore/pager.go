package triplestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/knakk/rdf"
	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/metrics"
	"evalgo.org/unifiedviews/internal/sparql"
)

// Column names of CONSTRUCT and DESCRIBE results.
const (
	ColumnSubject   = "subject"
	ColumnPredicate = "predicate"
	ColumnObject    = "object"
)

// TripleColumns are the columns of a graph result.
var TripleColumns = []string{ColumnSubject, ColumnPredicate, ColumnObject}

// maxCacheEntries bounds the number of cached query sizes and graphs.
const maxCacheEntries = 64

// QueryDefinition is a query together with the context it runs in.
type QueryDefinition struct {
	Query string `json:"query" validate:"required"`

	// Graphs scope the query to named graphs unless it has its own dataset.
	Graphs []string `json:"graphs,omitempty"`

	Filters []sparql.Filter `json:"filters,omitempty" validate:"dive"`

	// Prefixes are declared for prefixed names the query uses but does not declare.
	Prefixes map[string]string `json:"-"`
}

// Page is one window of a result.
type Page struct {
	Type   sparql.QueryType `json:"type"`
	Vars   []string         `json:"vars"`
	Offset int              `json:"offset"`
	Limit  int              `json:"limit"`

	// Rows is set for SELECT results.
	Rows []map[string]rdf.Term `json:"-"`

	// Triples is set for CONSTRUCT and DESCRIBE results.
	Triples []rdf.Triple `json:"-"`
}

// Len returns the number of rows or triples in the page.
func (p *Page) Len() int {
	if p.Type == sparql.Select {
		return len(p.Rows)
	}
	return len(p.Triples)
}

// Pager runs query definitions one page at a time and reports result sizes.
// Sizes and the triples of graph results are cached per rewritten query.
type Pager struct {
	client  Client
	ttl     time.Duration
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	size    int
	triples []rdf.Triple
	expires time.Time
}

// NewPager creates a pager over client. A zero CountCacheTTL disables the
// cache.
func NewPager(client Client, cfg config.TripleStoreConfig, logger *log.Logger, m *metrics.Metrics) *Pager {
	return &Pager{
		client:  client,
		ttl:     cfg.CountCacheTTL,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		cache:   make(map[string]*cacheEntry),
	}
}

// prepare applies prefixes, graph scope and, for SELECT, the column filters.
func (p *Pager) prepare(def QueryDefinition) (*sparql.Query, error) {
	q, err := sparql.Parse(def.Query)
	if err != nil {
		return nil, err
	}
	text := q.WithPrefixes(def.Prefixes)
	if text, err = sparql.ScopeToGraphs(text, def.Graphs...); err != nil {
		return nil, err
	}
	if q.Type == sparql.Select {
		if text, err = sparql.AddFilters(text, def.Filters); err != nil {
			return nil, err
		}
	} else {
		for _, f := range def.Filters {
			if tripleColumn(f.Variable) < 0 {
				return nil, fmt.Errorf("%w: ?%s", sparql.ErrUnknownVariable, strings.TrimLeft(f.Variable, "?$"))
			}
		}
	}
	return sparql.Parse(text)
}

// Page runs the window [offset, offset+limit) of def.
func (p *Pager) Page(ctx context.Context, def QueryDefinition, offset, limit int) (*Page, error) {
	if offset < 0 {
		offset = 0
	}
	q, err := p.prepare(def)
	if err != nil {
		return nil, err
	}
	page := &Page{Type: q.Type, Offset: offset, Limit: limit}

	if q.Type == sparql.Select {
		res, err := p.client.Select(ctx, q.Paginate(offset, limit))
		if err != nil {
			return nil, err
		}
		page.Vars = res.Vars
		if len(page.Vars) == 0 {
			page.Vars = q.ProjectedVariables()
		}
		page.Rows = res.Rows
		return page, nil
	}

	triples, err := p.triples(ctx, q, def.Filters)
	if err != nil {
		return nil, err
	}
	page.Vars = TripleColumns
	page.Triples = window(triples, offset, limit)
	return page, nil
}

// All runs def without a window.
func (p *Pager) All(ctx context.Context, def QueryDefinition) (*Page, error) {
	return p.Page(ctx, def, 0, -1)
}

// Size returns the number of rows (SELECT) or triples (CONSTRUCT, DESCRIBE)
// def yields. SELECT sizes come from the count rewrite; graph results are
// iterated.
func (p *Pager) Size(ctx context.Context, def QueryDefinition) (int, error) {
	q, err := p.prepare(def)
	if err != nil {
		return 0, err
	}
	if q.Type != sparql.Select {
		triples, err := p.triples(ctx, q, def.Filters)
		if err != nil {
			return 0, err
		}
		return len(triples), nil
	}

	if e := p.lookup(q.Text); e != nil {
		return e.size, nil
	}
	countQuery, countVar, err := q.CountQuery()
	if err != nil {
		return 0, err
	}
	res, err := p.client.Select(ctx, countQuery)
	if err != nil {
		return 0, err
	}
	size, err := countValue(res, countVar)
	if err != nil {
		return 0, err
	}
	p.store(q.Text, &cacheEntry{size: size})
	return size, nil
}

// Invalidate drops all cached sizes.
func (p *Pager) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]*cacheEntry)
}

func (p *Pager) triples(ctx context.Context, q *sparql.Query, filters []sparql.Filter) ([]rdf.Triple, error) {
	key := q.Text
	if len(filters) > 0 {
		key += "\x00" + filterKey(filters)
	}
	if e := p.lookup(key); e != nil {
		return e.triples, nil
	}
	triples, err := p.client.Construct(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	if triples, err = FilterTriples(triples, filters); err != nil {
		return nil, err
	}
	p.store(key, &cacheEntry{size: len(triples), triples: triples})
	return triples, nil
}

func (p *Pager) lookup(key string) *cacheEntry {
	if p.ttl <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.cache[key]
	if ok && p.now().Before(e.expires) {
		p.metrics.CountCacheHit(true)
		return e
	}
	if ok {
		delete(p.cache, key)
	}
	p.metrics.CountCacheHit(false)
	return nil
}

func (p *Pager) store(key string, e *cacheEntry) {
	if p.ttl <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	e.expires = now.Add(p.ttl)
	for k, old := range p.cache {
		if !now.Before(old.expires) {
			delete(p.cache, k)
		}
	}
	if len(p.cache) >= maxCacheEntries {
		keys := make([]string, 0, len(p.cache))
		for k := range p.cache {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return p.cache[keys[i]].expires.Before(p.cache[keys[j]].expires) })
		for _, k := range keys[:len(keys)-maxCacheEntries+1] {
			delete(p.cache, k)
		}
	}
	p.cache[key] = e
}

func filterKey(filters []sparql.Filter) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.Variable + "\x01" + string(f.Mode) + "\x01" + f.Value
	}
	return strings.Join(parts, "\x02")
}

// countValue reads the single count binding of a count query result.
func countValue(res *Result, countVar string) (int, error) {
	if res.Len() == 0 {
		return 0, nil
	}
	term, ok := res.Rows[0][countVar]
	if !ok {
		return 0, fmt.Errorf("%w: count result has no ?%s binding", ErrQueryFailed, countVar)
	}
	n, err := strconv.Atoi(strings.TrimSpace(term.String()))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid count %q", ErrQueryFailed, term.String())
	}
	return n, nil
}

// window slices [offset, offset+limit) out of triples; a negative limit is
// open-ended.
func window(triples []rdf.Triple, offset, limit int) []rdf.Triple {
	if offset >= len(triples) {
		return nil
	}
	end := len(triples)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return triples[offset:end]
}

func tripleColumn(variable string) int {
	switch strings.ToLower(strings.TrimLeft(variable, "?$")) {
	case ColumnSubject, "s":
		return 0
	case ColumnPredicate, "p":
		return 1
	case ColumnObject, "o":
		return 2
	}
	return -1
}

// FilterTriples keeps the triples matching every filter. Filters name a
// triple column: subject, predicate or object (or s, p, o).
func FilterTriples(triples []rdf.Triple, filters []sparql.Filter) ([]rdf.Triple, error) {
	if len(filters) == 0 {
		return triples, nil
	}
	type check struct {
		column int
		match  func(value, lang string) bool
	}
	checks := make([]check, 0, len(filters))
	for _, f := range filters {
		col := tripleColumn(f.Variable)
		if col < 0 {
			return nil, fmt.Errorf("%w: ?%s", sparql.ErrUnknownVariable, strings.TrimLeft(f.Variable, "?$"))
		}
		match, err := f.Matcher()
		if err != nil {
			return nil, err
		}
		checks = append(checks, check{column: col, match: match})
	}

	out := make([]rdf.Triple, 0, len(triples))
	for _, t := range triples {
		terms := [3]rdf.Term{t.Subj, t.Pred, t.Obj}
		keep := true
		for _, c := range checks {
			value, lang := TermValue(terms[c.column])
			if !c.match(value, lang) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, t)
		}
	}
	return out, nil
}

// TermValue returns the lexical form of a term and, for literals, its
// language tag.
func TermValue(t rdf.Term) (string, string) {
	if t == nil {
		return "", ""
	}
	if lit, ok := t.(rdf.Literal); ok {
		return lit.String(), lit.Lang()
	}
	return t.String(), ""
}

// IsCanceled reports whether err stems from a canceled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
