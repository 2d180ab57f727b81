// Package pipeline validates, orders, renders and serializes pipeline graphs.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"

	"evalgo.org/unifiedviews/models"
)

var (
	// ErrCycle is reported when the edges of a pipeline form a cycle.
	ErrCycle = errors.New("pipeline graph contains a cycle")

	// ErrInvalid is returned by Validate when the pipeline has errors.
	ErrInvalid = errors.New("invalid pipeline")
)

// Result collects the problems found by Validate.
type Result struct {
	// Errors make the pipeline unusable.
	Errors []string `json:"errors"`

	// Warnings are reported but do not block saving or running.
	Warnings []string `json:"warnings"`

	cycle bool
}

// Valid reports whether no errors were found.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns nil for a valid result, otherwise an error wrapping ErrInvalid,
// and ErrCycle too when a cycle was found.
func (r *Result) Err() error {
	if r.Valid() {
		return nil
	}
	err := fmt.Errorf("%w: validation failed with %d error(s): %s", ErrInvalid, len(r.Errors), strings.Join(r.Errors, "; "))
	if r.cycle {
		return errors.Join(err, ErrCycle)
	}
	return err
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func nodeHash(n models.PipelineNode) string { return n.ID }

// Validate checks the pipeline graph against the installed templates (keyed
// by ID). Node IDs must be unique and reference existing templates, edges must
// join two distinct existing nodes at most once, and the graph must be
// acyclic.
func Validate(p *models.Pipeline, templates map[string]*models.DPUTemplate) *Result {
	result := &Result{Errors: []string{}, Warnings: []string{}}

	if strings.TrimSpace(p.Name) == "" {
		result.errorf("pipeline name is required")
	}

	g := graph.New(nodeHash, graph.Directed(), graph.PreventCycles())
	for _, n := range p.Graph.Nodes {
		if n.ID == "" {
			result.errorf("node %q has no ID", n.Name)
			continue
		}
		if err := g.AddVertex(n); err != nil {
			if errors.Is(err, graph.ErrVertexAlreadyExists) {
				result.errorf("duplicate node ID %s", n.ID)
			} else {
				result.errorf("node %s: %v", n.ID, err)
			}
			continue
		}
		if _, ok := templates[n.TemplateID]; !ok {
			result.errorf("node %s references unknown DPU template %s", n.ID, n.TemplateID)
		}
	}

	for _, e := range p.Graph.Edges {
		switch {
		case e.From == e.To:
			result.errorf("edge %s connects node %s to itself", e.ID, e.From)
			continue
		case p.Node(e.From) == nil:
			result.errorf("edge %s starts at unknown node %s", e.ID, e.From)
			continue
		case p.Node(e.To) == nil:
			result.errorf("edge %s ends at unknown node %s", e.ID, e.To)
			continue
		}
		err := g.AddEdge(e.From, e.To)
		switch {
		case err == nil:
		case errors.Is(err, graph.ErrEdgeAlreadyExists):
			result.errorf("duplicate edge from %s to %s", e.From, e.To)
		case errors.Is(err, graph.ErrEdgeCreatesCycle):
			result.errorf("edge %s from %s to %s creates a cycle", e.ID, e.From, e.To)
			result.cycle = true
		default:
			result.errorf("edge %s: %v", e.ID, err)
		}
	}

	if len(p.Graph.Nodes) == 0 {
		result.warnf("pipeline has no nodes")
	}
	for _, n := range p.Graph.Nodes {
		if tpl, ok := templates[n.TemplateID]; ok && tpl.DPUType == models.DPUTypeExtractor && hasIncoming(p, n.ID) {
			result.warnf("extractor node %s has incoming edges", n.ID)
		}
	}
	return result
}

func hasIncoming(p *models.Pipeline, nodeID string) bool {
	for _, e := range p.Graph.Edges {
		if e.To == nodeID {
			return true
		}
	}
	return false
}

// build creates the graph of a pipeline, failing on the first problem.
func build(p *models.Pipeline) (graph.Graph[string, models.PipelineNode], error) {
	g := graph.New(nodeHash, graph.Directed(), graph.PreventCycles())
	for _, n := range p.Graph.Nodes {
		if err := g.AddVertex(n); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
	}
	for _, e := range p.Graph.Edges {
		if err := g.AddEdge(e.From, e.To); err != nil {
			if errors.Is(err, graph.ErrEdgeCreatesCycle) {
				return nil, fmt.Errorf("%w: edge %s -> %s", ErrCycle, e.From, e.To)
			}
			if errors.Is(err, graph.ErrEdgeAlreadyExists) {
				continue
			}
			return nil, fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err)
		}
	}
	return g, nil
}

// Order returns the nodes in execution order. Nodes without a mutual
// dependency are ordered by name, then ID.
func Order(p *models.Pipeline) ([]models.PipelineNode, error) {
	g, err := build(p)
	if err != nil {
		return nil, err
	}
	less := func(a, b string) bool {
		na, nb := p.Node(a), p.Node(b)
		if na.Name != nb.Name {
			return na.Name < nb.Name
		}
		return a < b
	}
	ids, err := graph.StableTopologicalSort(g, less)
	if err != nil {
		return nil, err
	}
	nodes := make([]models.PipelineNode, len(ids))
	for i, id := range ids {
		nodes[i] = *p.Node(id)
	}
	return nodes, nil
}

// Waves groups the nodes into levels: every node runs after all nodes of the
// previous levels it depends on. Nodes of one level are sorted by name.
func Waves(p *models.Pipeline) ([][]models.PipelineNode, error) {
	g, err := build(p)
	if err != nil {
		return nil, err
	}
	preds, err := g.PredecessorMap()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(p.Graph.Nodes))
	order, err := Order(p)
	if err != nil {
		return nil, err
	}
	var waves [][]models.PipelineNode
	for _, n := range order {
		l := 0
		for pred := range preds[n.ID] {
			if level[pred]+1 > l {
				l = level[pred] + 1
			}
		}
		level[n.ID] = l
		for len(waves) <= l {
			waves = append(waves, nil)
		}
		waves[l] = append(waves[l], n)
	}
	for _, w := range waves {
		sort.SliceStable(w, func(i, j int) bool { return w[i].Name < w[j].Name })
	}
	return waves, nil
}
