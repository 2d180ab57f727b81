// Package unifiedviews is the management front-end of an ETL platform for
// linked data.
//
// # Overview
//
// UnifiedViews organises data processing units (DPUs) into pipelines. A DPU
// template is an installed processing unit (extractor, transformer, loader or
// quality checker) shipped as a JAR. A pipeline is a directed acyclic graph of
// DPU instances; running it creates an execution whose DPUs write data units,
// RDF graphs among them, that can be browsed with SPARQL afterwards.
//
// The front-end consists of:
//   - Web UI: server-rendered pages for DPUs, pipelines, executions,
//     schedules, namespace prefixes and users
//   - REST API: the same operations as JSON under /api/v1
//   - Browser: paged SPARQL queries, column filters and exports over the
//     graphs of RDF data units
//   - Scheduler: periodic and after-pipeline schedules queue executions
//   - Deleter: removes old executions with their working directories
//   - Storage: CouchDB documents with JSON-LD types
//
// Executing pipelines is the job of the backend engine, which picks queued
// executions up from the shared store.
//
// # Architecture
//
//	┌─────────────────┐       ┌─────────────────┐
//	│   Web UI        │       │   REST API      │
//	│ (html/template) │       │   (Echo)        │
//	└────────┬────────┘       └────────┬────────┘
//	         └────────────┬────────────┘
//	         ┌────────────▼────────────┐
//	         │  Services (internal/*)  │──────► SPARQL endpoint
//	         │  pipelines, browse,     │        (data unit graphs)
//	         │  scheduler, cleanup     │
//	         └────────────┬────────────┘
//	         ┌────────────▼────────────┐
//	         │  Storage (EVE/CouchDB)  │◄────── backend engine
//	         └─────────────────────────┘
//
// # Usage
//
// Create the first administrator and start the server:
//
//	unifiedviews user create admin --password-stdin < admin.pw
//	unifiedviews server --config configs/config.yaml
//
// Query a SPARQL endpoint from the shell:
//
//	unifiedviews query 'SELECT * WHERE { ?s ?p ?o }' --limit 10 --count
//
// Check and draw a pipeline document:
//
//	unifiedviews pipeline validate nightly.yaml
//	unifiedviews pipeline dot nightly.yaml | dot -Tsvg > nightly.svg
//
// Delete executions older than 90 days:
//
//	unifiedviews cleanup --older-than 90
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (config.yaml, configs/config.yaml, ~/.unifiedviews, /etc/unifiedviews)
//   - Environment variables (UV_ prefix, e.g. UV_TRIPLESTORE_QUERY_ENDPOINT)
//   - .env file
//
// "unifiedviews config init" writes a commented default file.
//
// # API Endpoints
//
// DPU templates:
//   - GET    /api/v1/dpus                     - List templates
//   - POST   /api/v1/dpus                     - Upload a JAR as a new template
//   - GET    /api/v1/dpus/:id                 - Get template
//   - PUT    /api/v1/dpus/:id                 - Update template
//   - POST   /api/v1/dpus/:id/jar             - Replace the JAR
//   - POST   /api/v1/dpus/:id/children        - Create a child template
//   - DELETE /api/v1/dpus/:id                 - Delete unused template
//
// Pipelines:
//   - GET    /api/v1/pipelines                - List pipelines
//   - POST   /api/v1/pipelines                - Create pipeline
//   - POST   /api/v1/pipelines/import         - Import a YAML document
//   - GET    /api/v1/pipelines/:id/export     - Export as YAML
//   - GET    /api/v1/pipelines/:id/graph      - Graphviz DOT
//   - POST   /api/v1/pipelines/:id/copy       - Copy pipeline
//   - POST   /api/v1/pipelines/:id/run        - Queue an execution
//   - DELETE /api/v1/pipelines/:id            - Delete pipeline
//
// Executions and data units:
//   - GET    /api/v1/executions                             - List executions
//   - POST   /api/v1/executions/:id/cancel                  - Cancel execution
//   - POST   /api/v1/executions/cleanup                     - Delete old executions
//   - GET    /api/v1/executions/:id/dataunits               - List data units
//   - POST   /api/v1/executions/:id/dataunits/:index/query  - One page of a query
//   - POST   /api/v1/executions/:id/dataunits/:index/count  - Result size
//   - POST   /api/v1/executions/:id/dataunits/:index/export - Full result download
//
// Schedules, prefixes and users live under /api/v1/schedules,
// /api/v1/prefixes and /api/v1/users. Live events are streamed on
// /api/v1/ws/events.
//
// # JSON-LD Models
//
// Pipeline:
//
//	{
//	  "@context": "https://schema.org",
//	  "@type": "Pipeline",
//	  "@id": "pipeline:5b0c...",
//	  "name": "load-dbpedia",
//	  "visibility": "public",
//	  "graph": {"nodes": [...], "edges": [...]}
//	}
//
// Execution (PipelineExecution):
//
//	{
//	  "@context": "https://schema.org",
//	  "@type": "PipelineExecution",
//	  "@id": "execution:91a2...",
//	  "pipelineId": "pipeline:5b0c...",
//	  "status": "FINISHED_SUCCESS"
//	}
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Run integration tests (starts a CouchDB container):
//
//	go test -v -tags=integration ./internal/storage/...
//
// Build the binary:
//
//	go build -o unifiedviews ./cmd/unifiedviews
package unifiedviews
