// Package triplestore talks to the external RDF store over the SPARQL 1.1
// protocol and pages query results lazily.
package triplestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/knakk/rdf"
	ksparql "github.com/knakk/sparql"
	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/metrics"
	"evalgo.org/unifiedviews/internal/sparql"
)

// Client runs queries against a triple store.
type Client interface {
	// Select runs a SELECT query and returns its solutions.
	Select(ctx context.Context, query string) (*Result, error)

	// Construct runs a CONSTRUCT or DESCRIBE query and returns its triples.
	Construct(ctx context.Context, query string) ([]rdf.Triple, error)

	// Ping checks that the endpoint answers queries.
	Ping(ctx context.Context) error
}

// Result holds the solutions of a SELECT query.
type Result struct {
	Vars []string
	Rows []map[string]rdf.Term
}

// Len returns the number of solutions.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

const pingQuery = "SELECT * WHERE { ?s ?p ?o } LIMIT 1"

// Repo is a Client backed by a knakk/sparql repository.
type Repo struct {
	repo     *ksparql.Repo
	endpoint string
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// NewRepo connects to the query endpoint of cfg. Credentials are sent with
// HTTP digest authentication only; knakk/sparql has no basic auth option.
func NewRepo(cfg config.TripleStoreConfig, logger *log.Logger, m *metrics.Metrics) (*Repo, error) {
	if cfg.QueryEndpoint == "" {
		return nil, errors.New("triple store query endpoint is not configured")
	}
	var opts []func(*ksparql.Repo) error
	if cfg.Timeout > 0 {
		opts = append(opts, ksparql.Timeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts, ksparql.DigestAuth(cfg.Username, cfg.Password))
	}
	repo, err := ksparql.NewRepo(cfg.QueryEndpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPARQL repository: %w", err)
	}
	return &Repo{repo: repo, endpoint: cfg.QueryEndpoint, logger: logger, metrics: m}, nil
}

// Select implements Client.
func (r *Repo) Select(ctx context.Context, query string) (*Result, error) {
	res, err := run(ctx, r, query, func() (*ksparql.Results, error) {
		return r.repo.Query(query)
	})
	if err != nil {
		return nil, err
	}
	return &Result{Vars: res.Head.Vars, Rows: res.Solutions()}, nil
}

// Construct implements Client.
func (r *Repo) Construct(ctx context.Context, query string) ([]rdf.Triple, error) {
	return run(ctx, r, query, func() ([]rdf.Triple, error) {
		return r.repo.Construct(query)
	})
}

// Ping implements Client.
func (r *Repo) Ping(ctx context.Context) error {
	_, err := r.Select(ctx, pingQuery)
	return err
}

// Endpoint returns the query endpoint URL.
func (r *Repo) Endpoint() string {
	return r.endpoint
}

// run executes call, giving up when ctx ends first. The repository has no
// request context, so an abandoned call finishes in the background and its
// result is dropped.
func run[T any](ctx context.Context, r *Repo, query string, call func() (T, error)) (T, error) {
	queryType := string(sparql.Classify(query))
	start := time.Now()
	r.logger.Debugf("SPARQL %s query: %s", queryType, query)

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := call()
		done <- outcome{value: v, err: err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		r.metrics.ObserveQuery(queryType, start, metrics.OutcomeCanceled)
		return zero, ctx.Err()
	case o := <-done:
		if o.err != nil {
			r.metrics.ObserveQuery(queryType, start, metrics.OutcomeError)
			r.logger.Errorf("SPARQL %s query failed after %s: %v", queryType, time.Since(start), o.err)
			return zero, fmt.Errorf("%w: %v", ErrQueryFailed, o.err)
		}
		r.metrics.ObserveQuery(queryType, start, metrics.OutcomeOK)
		return o.value, nil
	}
}

// ErrQueryFailed wraps errors reported by the endpoint.
var ErrQueryFailed = errors.New("SPARQL query failed")

var _ Client = (*Repo)(nil)
