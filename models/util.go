// Package models contains the documents UnifiedViews persists: DPU templates,
// pipelines, executions, schedules, users and namespace prefixes.
//
// Every document carries a JSON-LD @context and @type so that CouchDB views and
// Mango selectors can discriminate record types stored in the same database.
package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Context is the JSON-LD context shared by all documents.
const Context = "https://schema.org"

// Document types (JSON-LD @type values).
const (
	TypeDPUTemplate     = "DPUTemplate"
	TypePipeline        = "Pipeline"
	TypeExecution       = "PipelineExecution"
	TypeSchedule        = "Schedule"
	TypeUser            = "Person"
	TypeNamespacePrefix = "NamespacePrefix"
)

// GenerateID generates a unique ID with the given prefix
// Example: GenerateID("pipeline") -> "pipeline:uuid-here"
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s:%s", prefix, uuid.New().String())
}
