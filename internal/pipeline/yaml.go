package pipeline

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"evalgo.org/unifiedviews/models"
)

// Document is the portable YAML form of a pipeline. Templates are referenced
// by name so a document can move between installations.
type Document struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Visibility  models.Visibility `yaml:"visibility,omitempty"`
	Nodes       []NodeDocument    `yaml:"nodes"`
	Edges       []EdgeDocument    `yaml:"edges,omitempty"`
}

// NodeDocument is a node of a Document.
type NodeDocument struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Template      string `yaml:"template"`
	Description   string `yaml:"description,omitempty"`
	Configuration string `yaml:"configuration,omitempty"`
	X             int    `yaml:"x,omitempty"`
	Y             int    `yaml:"y,omitempty"`
}

// EdgeDocument is an edge of a Document.
type EdgeDocument struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Script string `yaml:"script,omitempty"`
}

// Export serializes a pipeline. templates is keyed by template ID.
func Export(p *models.Pipeline, templates map[string]*models.DPUTemplate) ([]byte, error) {
	doc := Document{
		Name:        p.Name,
		Description: p.Description,
		Visibility:  p.Visibility,
		Nodes:       make([]NodeDocument, 0, len(p.Graph.Nodes)),
	}
	for _, n := range p.Graph.Nodes {
		tpl, ok := templates[n.TemplateID]
		if !ok {
			return nil, fmt.Errorf("node %s references unknown DPU template %s", n.ID, n.TemplateID)
		}
		doc.Nodes = append(doc.Nodes, NodeDocument{
			ID:            n.ID,
			Name:          n.Name,
			Template:      tpl.Name,
			Description:   n.Description,
			Configuration: n.Configuration,
			X:             n.X,
			Y:             n.Y,
		})
	}
	for _, e := range p.Graph.Edges {
		doc.Edges = append(doc.Edges, EdgeDocument{From: e.From, To: e.To, Script: e.Script})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode pipeline: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a pipeline document without resolving templates.
func Decode(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse pipeline document: %v", ErrInvalid, err)
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, fmt.Errorf("%w: pipeline document has no name", ErrInvalid)
	}
	return &doc, nil
}

// Import creates a new pipeline owned by owner from a document. byName maps
// template names to installed templates; unknown names are reported
// together.
func Import(data []byte, byName map[string]*models.DPUTemplate, owner string) (*models.Pipeline, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}

	p := models.NewPipeline(doc.Name, owner)
	p.Description = doc.Description
	if doc.Visibility != "" {
		p.Visibility = doc.Visibility
	}

	missing := make(map[string]bool)
	for _, n := range doc.Nodes {
		tpl, ok := byName[n.Template]
		if !ok {
			missing[n.Template] = true
			continue
		}
		p.Graph.Nodes = append(p.Graph.Nodes, models.PipelineNode{
			ID:            n.ID,
			TemplateID:    tpl.ID,
			Name:          n.Name,
			Description:   n.Description,
			Configuration: n.Configuration,
			X:             n.X,
			Y:             n.Y,
		})
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: unknown DPU templates: %s", ErrInvalid, strings.Join(names, ", "))
	}
	for i, e := range doc.Edges {
		p.Graph.Edges = append(p.Graph.Edges, models.PipelineEdge{
			ID:     "e" + strconv.Itoa(i+1),
			From:   e.From,
			To:     e.To,
			Script: e.Script,
		})
	}
	return p, nil
}

// CopyName returns the name for a copy of a pipeline called name that does
// not clash with existing: "Copy of <name>", then "Copy of <name> (2)", ...
func CopyName(name string, existing []string) string {
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[e] = true
	}
	candidate := "Copy of " + name
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("Copy of %s (%d)", name, n)
	}
	return candidate
}

// Copy duplicates a pipeline under a new ID and name for owner.
func Copy(p *models.Pipeline, name, owner string) *models.Pipeline {
	c := models.NewPipeline(name, owner)
	c.Description = p.Description
	c.Visibility = p.Visibility
	c.Graph.Nodes = append([]models.PipelineNode(nil), p.Graph.Nodes...)
	c.Graph.Edges = append([]models.PipelineEdge(nil), p.Graph.Edges...)
	return c
}
