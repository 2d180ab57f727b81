package models

import "time"

// DPUType is the kind of processing unit.
type DPUType string

const (
	DPUTypeExtractor   DPUType = "extractor"
	DPUTypeTransformer DPUType = "transformer"
	DPUTypeLoader      DPUType = "loader"
	DPUTypeQuality     DPUType = "quality"
)

// DPUTypes lists the valid DPU kinds in canvas order.
var DPUTypes = []DPUType{DPUTypeExtractor, DPUTypeTransformer, DPUTypeLoader, DPUTypeQuality}

// Valid reports whether t is a known DPU kind.
func (t DPUType) Valid() bool {
	for _, known := range DPUTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Visibility controls who may see a template or pipeline.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// DPUTemplate is an installed DPU: its JAR plus the default configuration new
// pipeline nodes are instantiated with. A template with a ParentID derives from
// another template and shares its JAR.
type DPUTemplate struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`

	ID  string `json:"@id" couchdb:"_id"`
	Rev string `json:"_rev,omitempty" couchdb:"_rev"`

	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	DPUType     DPUType `json:"dpuType"`

	// JarName is the file name of the DPU archive, e.g. "uv-e-sparql-2.1.0.jar".
	JarName string `json:"jarName,omitempty"`

	// JarDirectory is the directory below the DPU library holding the JAR.
	JarDirectory string `json:"jarDirectory,omitempty"`

	ParentID      string     `json:"parentId,omitempty"`
	Configuration string     `json:"configuration,omitempty"`
	Visibility    Visibility `json:"visibility"`
	Owner         string     `json:"owner,omitempty"`

	CreatedAt time.Time `json:"dateCreated"`
	UpdatedAt time.Time `json:"dateModified"`
}

// IsChild reports whether the template derives from another template.
func (t *DPUTemplate) IsChild() bool {
	return t.ParentID != ""
}

// NewDPUTemplate creates a template with defaults applied.
func NewDPUTemplate(name string, dpuType DPUType, owner string) *DPUTemplate {
	now := time.Now()
	return &DPUTemplate{
		Context:    Context,
		Type:       TypeDPUTemplate,
		ID:         GenerateID("dpu"),
		Name:       name,
		DPUType:    dpuType,
		Visibility: VisibilityPrivate,
		Owner:      owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
