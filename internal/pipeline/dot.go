package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	colors "gopkg.in/go-playground/colors.v1"

	"evalgo.org/unifiedviews/models"
)

// palette is the canvas colour of each DPU type.
var palette = map[models.DPUType][3]uint8{
	models.DPUTypeExtractor:   {76, 175, 80},
	models.DPUTypeTransformer: {33, 150, 243},
	models.DPUTypeLoader:      {255, 152, 0},
	models.DPUTypeQuality:     {156, 39, 176},
}

var unknownColor = [3]uint8{158, 158, 158}

// Color returns the hex colour used for DPUs of type t.
func Color(t models.DPUType) (string, error) {
	rgb, ok := palette[t]
	if !ok {
		rgb = unknownColor
	}
	c, err := colors.RGB(rgb[0], rgb[1], rgb[2])
	if err != nil {
		return "", fmt.Errorf("unable to get colour: %w", err)
	}
	return c.ToHEX().String(), nil
}

// RenderDOT writes the pipeline as a Graphviz digraph. Nodes are labelled
// with their name and template and filled with the colour of the DPU type.
func RenderDOT(p *models.Pipeline, templates map[string]*models.DPUTemplate, w io.Writer) error {
	g := graph.New(graph.StringHash, graph.Directed())
	for _, n := range p.Graph.Nodes {
		label := n.Name
		var dpuType models.DPUType
		if tpl, ok := templates[n.TemplateID]; ok {
			label += `\n(` + tpl.Name + ")"
			dpuType = tpl.DPUType
		}
		fill, err := Color(dpuType)
		if err != nil {
			return err
		}
		err = g.AddVertex(n.ID,
			graph.VertexAttribute("label", escapeDOT(label)),
			graph.VertexAttribute("shape", "box"),
			graph.VertexAttribute("style", "filled,rounded"),
			graph.VertexAttribute("fillcolor", fill),
		)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
	}
	for _, e := range p.Graph.Edges {
		var opts []func(*graph.EdgeProperties)
		if s := strings.TrimSpace(e.Script); s != "" {
			opts = append(opts, graph.EdgeAttribute("label", escapeDOT(strings.ReplaceAll(s, "\n", `\n`))))
		}
		if err := g.AddEdge(e.From, e.To, opts...); err != nil {
			return fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err)
		}
	}
	return draw.DOT(g, w, draw.GraphAttribute("rankdir", "LR"), draw.GraphAttribute("label", escapeDOT(p.Name)))
}

// escapeDOT escapes double quotes for a quoted DOT attribute value. Existing
// \n sequences are kept as line breaks.
func escapeDOT(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
