package models

import "time"

// Pipeline is a directed graph of DPU instances describing an ETL workflow.
//
// Example JSON representation:
//
//	{
//	  "@context": "https://schema.org",
//	  "@type": "Pipeline",
//	  "@id": "pipeline:5b0c...",
//	  "name": "load-dbpedia",
//	  "graph": {
//	    "nodes": [{"id": "n1", "templateId": "dpu:...", "name": "SPARQL extractor"}],
//	    "edges": []
//	  }
//	}
type Pipeline struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`

	ID  string `json:"@id" couchdb:"_id"`
	Rev string `json:"_rev,omitempty" couchdb:"_rev"`

	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Visibility  Visibility `json:"visibility"`
	Owner       string     `json:"owner,omitempty"`
	Graph       Graph      `json:"graph"`

	CreatedAt time.Time `json:"dateCreated"`
	UpdatedAt time.Time `json:"dateModified"`
}

// Graph holds the DPU instances of a pipeline and the edges between them.
type Graph struct {
	Nodes []PipelineNode `json:"nodes"`
	Edges []PipelineEdge `json:"edges"`
}

// PipelineNode is one DPU instance placed on the pipeline canvas.
type PipelineNode struct {
	ID            string `json:"id"`
	TemplateID    string `json:"templateId"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Configuration string `json:"configuration,omitempty"`
	X             int    `json:"x"`
	Y             int    `json:"y"`
}

// PipelineEdge connects the output data units of From with the inputs of To.
// Script holds the data unit mapping ("output -> input" lines).
type PipelineEdge struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Script string `json:"script,omitempty"`
}

// NewPipeline creates an empty pipeline with defaults applied.
func NewPipeline(name, owner string) *Pipeline {
	now := time.Now()
	return &Pipeline{
		Context:    Context,
		Type:       TypePipeline,
		ID:         GenerateID("pipeline"),
		Name:       name,
		Visibility: VisibilityPrivate,
		Owner:      owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Node returns the node with the given ID, or nil.
func (p *Pipeline) Node(id string) *PipelineNode {
	for i := range p.Graph.Nodes {
		if p.Graph.Nodes[i].ID == id {
			return &p.Graph.Nodes[i]
		}
	}
	return nil
}

// UsesTemplate reports whether any node is an instance of the template.
func (p *Pipeline) UsesTemplate(templateID string) bool {
	for _, n := range p.Graph.Nodes {
		if n.TemplateID == templateID {
			return true
		}
	}
	return false
}
