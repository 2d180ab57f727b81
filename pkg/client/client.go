// Package client is a small Go client for the UnifiedViews REST API.
//
// It covers what scripts and the command line need: logging in, listing
// and running pipelines, following executions and querying their RDF data
// units.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"evalgo.org/unifiedviews/models"
)

// Client talks to one UnifiedViews server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token returns the bearer token in use, if any.
func (c *Client) Token() string {
	return c.token
}

// Error is a non-2xx answer of the server.
type Error struct {
	StatusCode int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is a server error with the given status.
func IsStatus(err error, status int) bool {
	e, ok := err.(*Error)
	return ok && e.StatusCode == status
}

// do sends a JSON request and decodes a JSON answer into out when out is
// not nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
			apiErr.Details = strings.TrimSpace(string(data))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err = io.Copy(w, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login exchanges credentials for a token and uses it for later requests.
func (c *Client) Login(ctx context.Context, username, password string) (time.Time, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, loginRequest{username, password}, &resp); err != nil {
		return time.Time{}, err
	}
	c.token = resp.AccessToken
	return resp.ExpiresAt, nil
}

// List is the envelope of list endpoints.
type List[T any] struct {
	Count  int `json:"count"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Items  []T `json:"items"`
}

// ListPipelines returns the pipelines visible to the caller. A non-empty
// search restricts them to names containing it.
func (c *Client) ListPipelines(ctx context.Context, search string) ([]*models.Pipeline, error) {
	q := url.Values{}
	if search != "" {
		q.Set("q", search)
	}
	var resp List[*models.Pipeline]
	if err := c.do(ctx, http.MethodGet, "/api/v1/pipelines", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// FindPipeline resolves a pipeline by ID or exact name.
func (c *Client) FindPipeline(ctx context.Context, ref string) (*models.Pipeline, error) {
	if strings.HasPrefix(ref, "pipeline:") {
		var p models.Pipeline
		if err := c.do(ctx, http.MethodGet, "/api/v1/pipelines/"+url.PathEscape(ref), nil, nil, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
	pipelines, err := c.ListPipelines(ctx, ref)
	if err != nil {
		return nil, err
	}
	for _, p := range pipelines {
		if p.Name == ref {
			return p, nil
		}
	}
	return nil, &Error{StatusCode: http.StatusNotFound, Message: "Pipeline not found", Details: ref}
}

// RunOptions controls a pipeline run.
type RunOptions struct {
	Debug     bool   `json:"debug"`
	DebugNode string `json:"debugNode,omitempty"`
}

// RunPipeline queues an execution of the pipeline.
func (c *Client) RunPipeline(ctx context.Context, id string, opts RunOptions) (*models.Execution, error) {
	var e models.Execution
	if err := c.do(ctx, http.MethodPost, "/api/v1/pipelines/"+url.PathEscape(id)+"/run", nil, opts, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetExecution returns one execution.
func (c *Client) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	var e models.Execution
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+url.PathEscape(id), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// WaitExecution polls the execution every interval until it is finished or
// ctx ends.
func (c *Client) WaitExecution(ctx context.Context, id string, interval time.Duration) (*models.Execution, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		e, err := c.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if e.Status.IsFinished() {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return e, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Filter restricts one result column.
type Filter struct {
	Variable string `json:"variable"`
	Value    string `json:"value"`
	Mode     string `json:"mode,omitempty"`
}

// QueryRequest is a query against one data unit.
type QueryRequest struct {
	Query   string   `json:"query"`
	Filters []Filter `json:"filters,omitempty"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
	Count   bool     `json:"count,omitempty"`
}

// Cell is one rendered RDF term.
type Cell struct {
	Kind     string `json:"kind"`
	Value    string `json:"value"`
	Display  string `json:"display"`
	Lang     string `json:"lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// Table is one page of a query result.
type Table struct {
	Type    string   `json:"type"`
	Columns []string `json:"columns"`
	Rows    [][]Cell `json:"rows"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
	Total   int      `json:"total"`
}

func dataUnitPath(executionID string, index int, action string) string {
	return "/api/v1/executions/" + url.PathEscape(executionID) + "/dataunits/" + strconv.Itoa(index) + "/" + action
}

// QueryDataUnit runs a query against the RDF data unit at index of the
// execution and returns one page of the result.
func (c *Client) QueryDataUnit(ctx context.Context, executionID string, index int, req QueryRequest) (*Table, error) {
	var t Table
	if err := c.do(ctx, http.MethodPost, dataUnitPath(executionID, index, "query"), nil, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ExportDataUnit writes the whole query result to w in format, for example
// csv or turtle.
func (c *Client) ExportDataUnit(ctx context.Context, executionID string, index int, req QueryRequest, format string, w io.Writer) error {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	return c.do(ctx, http.MethodPost, dataUnitPath(executionID, index, "export"), q, req, w)
}
