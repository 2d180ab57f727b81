// Package storage provides the storage layer for UnifiedViews.
//
// CouchDB wraps the eve.evalgo.org/db library and stores every record type in
// one database, discriminated by the JSON-LD @type field. Memory keeps the
// same documents in process and backs tests and the memory storage backend.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"eve.evalgo.org/db"
	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/models"
)

// designName is the CouchDB design document holding the UnifiedViews views.
const designName = "unifiedviews"

// maxDocs bounds Mango queries; CouchDB defaults to 25 results otherwise.
const maxDocs = 10000

// CouchDB is the Store backed by CouchDB.
type CouchDB struct {
	service *db.CouchDBService
	config  *config.Config
	logger  *log.Logger
}

// Open returns the Store selected by the storage backend setting.
func Open(cfg *config.Config, logger *log.Logger) (Store, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return NewMemory(), nil
	}
	return New(cfg, logger)
}

// New creates a CouchDB store from the application configuration.
// It initializes the CouchDB connection and ensures the database exists.
func New(cfg *config.Config, logger *log.Logger) (*CouchDB, error) {
	couchConfig := db.CouchDBConfig{
		URL:             cfg.CouchDB.URL,
		Database:        cfg.CouchDB.Database,
		Username:        cfg.CouchDB.Username,
		Password:        cfg.CouchDB.Password,
		CreateIfMissing: true,
	}

	service, err := db.NewCouchDBServiceFromConfig(couchConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB service: %w", err)
	}

	s := &CouchDB{
		service: service,
		config:  cfg,
		logger:  logger,
	}

	if err := s.initializeSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return s, nil
}

// initializeSchema creates indexes and views needed for UnifiedViews queries.
func (s *CouchDB) initializeSchema() error {
	indexes := []db.Index{
		{
			Name:   "dpu-name",
			Fields: []string{"@type", "name"},
			Type:   "json",
		},
		{
			Name:   "dpu-type-parent",
			Fields: []string{"@type", "dpuType", "parentId"},
			Type:   "json",
		},
		{
			Name:   "execution-pipeline-status",
			Fields: []string{"@type", "pipelineId", "status"},
			Type:   "json",
		},
		{
			Name:   "execution-created",
			Fields: []string{"@type", "dateCreated"},
			Type:   "json",
		},
		{
			Name:   "schedule-pipeline",
			Fields: []string{"@type", "pipelineId", "enabled"},
			Type:   "json",
		},
		{
			Name:   "user-username",
			Fields: []string{"@type", "username"},
			Type:   "json",
		},
	}

	for _, index := range indexes {
		if err := s.service.CreateIndex(index); err != nil {
			// the index usually exists already
			s.logger.Warnf("failed to create index %s: %v", index.Name, err)
		}
	}

	if err := s.createViews(); err != nil {
		return fmt.Errorf("failed to create views: %w", err)
	}

	return nil
}

// createViews creates the MapReduce views used for reverse lookups and
// dashboard counts.
func (s *CouchDB) createViews() error {
	designDoc := db.DesignDoc{
		ID:       "_design/" + designName,
		Language: "javascript",
		Views: map[string]db.View{
			// pipelines_by_template: pipelines containing a node of the template
			"pipelines_by_template": {
				Map: `function(doc) {
					if (doc['@type'] === 'Pipeline' && doc.graph && doc.graph.nodes) {
						var seen = {};
						doc.graph.nodes.forEach(function(n) {
							if (n.templateId && !seen[n.templateId]) {
								seen[n.templateId] = true;
								emit(n.templateId, null);
							}
						});
					}
				}`,
			},
			// schedules_after_pipeline: schedules triggered by a pipeline
			"schedules_after_pipeline": {
				Map: `function(doc) {
					if (doc['@type'] === 'Schedule' && doc.afterPipelines) {
						doc.afterPipelines.forEach(function(p) { emit(p, null); });
					}
				}`,
			},
			// execution_count_by_status: executions per status
			"execution_count_by_status": {
				Map: `function(doc) {
					if (doc['@type'] === 'PipelineExecution' && doc.status) {
						emit(doc.status, 1);
					}
				}`,
				Reduce: "_sum",
			},
		},
	}

	return s.service.CreateDesignDoc(designDoc)
}

// Close closes the storage connection.
func (s *CouchDB) Close() error {
	return s.service.Close()
}

// Ping checks that the database answers.
func (s *CouchDB) Ping() error {
	_, err := s.service.GetDatabaseInfo()
	return err
}

// GetDatabaseInfo returns database statistics.
func (s *CouchDB) GetDatabaseInfo() (*db.DatabaseInfo, error) {
	return s.service.GetDatabaseInfo()
}

// saveDocument saves doc. On a revision conflict it fetches the current
// revision and retries once. setRev receives the stored revision.
func (s *CouchDB) saveDocument(doc interface{}, id string, setRev func(string)) error {
	resp, err := s.service.SaveGenericDocument(doc)
	if err != nil && isCouchConflict(err) {
		var current map[string]interface{}
		if getErr := s.service.GetGenericDocument(id, &current); getErr == nil {
			if rev, ok := current["_rev"].(string); ok {
				setRev(rev)
				resp, err = s.service.SaveGenericDocument(doc)
			}
		}
	}
	if err != nil {
		return mapError(err)
	}
	if resp != nil && resp.Rev != "" {
		setRev(resp.Rev)
	}
	return nil
}

func (s *CouchDB) getDocument(id string, v interface{}) error {
	if err := s.service.GetGenericDocument(id, v); err != nil {
		return mapError(err)
	}
	return nil
}

// deleteDocument deletes the current revision of id.
func (s *CouchDB) deleteDocument(id string) error {
	var current map[string]interface{}
	if err := s.getDocument(id, &current); err != nil {
		return err
	}
	rev, _ := current["_rev"].(string)
	s.logger.Debugf("deleting %s (rev: %s)", id, rev)
	if err := s.service.DeleteDocument(id, rev); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, mapError(err))
	}
	return nil
}

// findByType runs a Mango query for documents of docType with equality
// conditions on the given fields.
func findByType[T any](s *CouchDB, docType string, fields map[string]interface{}) ([]T, error) {
	qb := db.NewQueryBuilder().Where("@type", "$eq", docType)

	// deterministic selector order
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		qb = qb.And().Where(k, "$eq", fields[k])
	}

	query := qb.Limit(maxDocs).Build()
	s.logger.Debugf("find %s selector: %+v", docType, query.Selector)

	docs, err := db.FindTyped[T](s.service, query)
	if err != nil {
		return nil, mapError(err)
	}
	return docs, nil
}

// ensureUnique returns ErrConflict when a document of docType other than id
// already has field == value.
func (s *CouchDB) ensureUnique(docType, field, value, id string) error {
	query := db.MangoQuery{
		Selector: map[string]interface{}{
			"@type": docType,
			field:   map[string]interface{}{"$eq": value},
			"_id":   map[string]interface{}{"$ne": id},
		},
		Limit: 1,
	}
	docs, err := db.FindTyped[map[string]interface{}](s.service, query)
	if err != nil {
		return mapError(err)
	}
	if len(docs) > 0 {
		return fmt.Errorf("%s %q already exists: %w", strings.ToLower(docType), value, ErrConflict)
	}
	return nil
}

func isCouchConflict(err error) bool {
	var couchErr *db.CouchDBError
	return errors.As(err, &couchErr) && couchErr.IsConflict()
}

// mapError translates CouchDB errors into the storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var couchErr *db.CouchDBError
	if errors.As(err, &couchErr) {
		switch {
		case couchErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case couchErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

// ===============================================================
// DPU templates
// ===============================================================

// SaveDPUTemplate saves a DPU template. Template names are unique.
func (s *CouchDB) SaveDPUTemplate(t *models.DPUTemplate) error {
	if t.Context == "" {
		t.Context = models.Context
	}
	if t.Type == "" {
		t.Type = models.TypeDPUTemplate
	}
	if err := s.ensureUnique(models.TypeDPUTemplate, "name", t.Name, t.ID); err != nil {
		return err
	}
	return s.saveDocument(t, t.ID, func(rev string) { t.Rev = rev })
}

// GetDPUTemplate retrieves a DPU template by ID.
func (s *CouchDB) GetDPUTemplate(id string) (*models.DPUTemplate, error) {
	var t models.DPUTemplate
	if err := s.getDocument(id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetDPUTemplateByName retrieves a DPU template by its unique name.
func (s *CouchDB) GetDPUTemplateByName(name string) (*models.DPUTemplate, error) {
	docs, err := findByType[models.DPUTemplate](s, models.TypeDPUTemplate, map[string]interface{}{"name": name})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("dpu template %q: %w", name, ErrNotFound)
	}
	return &docs[0], nil
}

// ListDPUTemplates lists DPU templates ordered by name.
func (s *CouchDB) ListDPUTemplates(filter DPUFilter) ([]*models.DPUTemplate, error) {
	fields := map[string]interface{}{}
	if filter.Type != "" {
		fields["dpuType"] = filter.Type
	}
	if filter.ParentID != "" {
		fields["parentId"] = filter.ParentID
	}
	if filter.Owner != "" {
		fields["owner"] = filter.Owner
	}
	docs, err := findByType[models.DPUTemplate](s, models.TypeDPUTemplate, fields)
	if err != nil {
		return nil, err
	}
	result := make([]*models.DPUTemplate, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	sortTemplates(result)
	return result, nil
}

// DeleteDPUTemplate deletes a DPU template record.
func (s *CouchDB) DeleteDPUTemplate(id string) error {
	return s.deleteDocument(id)
}

// ===============================================================
// Pipelines
// ===============================================================

// SavePipeline saves a pipeline. Pipeline names are unique.
func (s *CouchDB) SavePipeline(p *models.Pipeline) error {
	if p.Context == "" {
		p.Context = models.Context
	}
	if p.Type == "" {
		p.Type = models.TypePipeline
	}
	if err := s.ensureUnique(models.TypePipeline, "name", p.Name, p.ID); err != nil {
		return err
	}
	return s.saveDocument(p, p.ID, func(rev string) { p.Rev = rev })
}

// GetPipeline retrieves a pipeline by ID.
func (s *CouchDB) GetPipeline(id string) (*models.Pipeline, error) {
	var p models.Pipeline
	if err := s.getDocument(id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPipelines lists pipelines ordered by name.
func (s *CouchDB) ListPipelines(filter PipelineFilter) ([]*models.Pipeline, error) {
	fields := map[string]interface{}{}
	if filter.Owner != "" {
		fields["owner"] = filter.Owner
	}
	if filter.Visibility != "" {
		fields["visibility"] = filter.Visibility
	}
	docs, err := findByType[models.Pipeline](s, models.TypePipeline, fields)
	if err != nil {
		return nil, err
	}
	result := make([]*models.Pipeline, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	sortPipelines(result)
	return result, nil
}

// ListPipelinesUsingTemplate returns the pipelines with a node of the template.
func (s *CouchDB) ListPipelinesUsingTemplate(templateID string) ([]*models.Pipeline, error) {
	result, err := s.service.QueryView(designName, "pipelines_by_template", db.ViewOptions{
		Key:         templateID,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, mapError(err)
	}

	pipelines := make([]*models.Pipeline, 0, len(result.Rows))
	for _, row := range result.Rows {
		var p models.Pipeline
		if err := json.Unmarshal(row.Doc, &p); err != nil {
			continue
		}
		pipelines = append(pipelines, &p)
	}
	sortPipelines(pipelines)
	return pipelines, nil
}

// DeletePipeline deletes a pipeline. Its executions and schedules are left to
// the caller.
func (s *CouchDB) DeletePipeline(id string) error {
	return s.deleteDocument(id)
}

// ===============================================================
// Executions
// ===============================================================

// SaveExecution saves an execution.
func (s *CouchDB) SaveExecution(e *models.Execution) error {
	if e.Context == "" {
		e.Context = models.Context
	}
	if e.Type == "" {
		e.Type = models.TypeExecution
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return s.saveDocument(e, e.ID, func(rev string) { e.Rev = rev })
}

// GetExecution retrieves an execution by ID.
func (s *CouchDB) GetExecution(id string) (*models.Execution, error) {
	var e models.Execution
	if err := s.getDocument(id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExecutions lists executions newest first.
func (s *CouchDB) ListExecutions(filter ExecutionFilter) ([]*models.Execution, error) {
	selector := executionSelector(filter)

	docs, err := db.FindTyped[models.Execution](s.service, db.MangoQuery{Selector: selector, Limit: maxDocs})
	if err != nil {
		return nil, mapError(err)
	}

	result := make([]*models.Execution, 0, len(docs))
	for i := range docs {
		if filter.match(&docs[i]) {
			result = append(result, &docs[i])
		}
	}
	sortExecutions(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// executionSelector builds the Mango selector of filter. Before is left to
// ExecutionFilter.match: CouchDB compares timestamps as strings, and the
// engine may write them with any offset.
func executionSelector(filter ExecutionFilter) map[string]interface{} {
	selector := map[string]interface{}{
		"@type": models.TypeExecution,
	}
	if filter.PipelineID != "" {
		selector["pipelineId"] = map[string]interface{}{"$eq": filter.PipelineID}
	}
	if len(filter.Status) > 0 {
		selector["status"] = map[string]interface{}{"$in": filter.Status}
	}
	return selector
}

// DeleteExecution deletes an execution record.
func (s *CouchDB) DeleteExecution(id string) error {
	return s.deleteDocument(id)
}

// ===============================================================
// Schedules
// ===============================================================

// SaveSchedule saves a schedule.
func (s *CouchDB) SaveSchedule(sc *models.Schedule) error {
	if sc.Context == "" {
		sc.Context = models.Context
	}
	if sc.Type == "" {
		sc.Type = models.TypeSchedule
	}
	return s.saveDocument(sc, sc.ID, func(rev string) { sc.Rev = rev })
}

// GetSchedule retrieves a schedule by ID.
func (s *CouchDB) GetSchedule(id string) (*models.Schedule, error) {
	var sc models.Schedule
	if err := s.getDocument(id, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ListSchedules lists schedules.
func (s *CouchDB) ListSchedules(filter ScheduleFilter) ([]*models.Schedule, error) {
	fields := map[string]interface{}{}
	if filter.PipelineID != "" {
		fields["pipelineId"] = filter.PipelineID
	}
	if filter.EnabledOnly {
		fields["enabled"] = true
	}
	docs, err := findByType[models.Schedule](s, models.TypeSchedule, fields)
	if err != nil {
		return nil, err
	}
	result := make([]*models.Schedule, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	sortSchedules(result)
	return result, nil
}

// ListSchedulesForPipeline returns the schedules that run the pipeline or are
// triggered by it.
func (s *CouchDB) ListSchedulesForPipeline(pipelineID string) ([]*models.Schedule, error) {
	own, err := s.ListSchedules(ScheduleFilter{PipelineID: pipelineID})
	if err != nil {
		return nil, err
	}

	result, err := s.service.QueryView(designName, "schedules_after_pipeline", db.ViewOptions{
		Key:         pipelineID,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, mapError(err)
	}

	seen := make(map[string]bool, len(own))
	for _, sc := range own {
		seen[sc.ID] = true
	}
	for _, row := range result.Rows {
		var sc models.Schedule
		if err := json.Unmarshal(row.Doc, &sc); err != nil {
			continue
		}
		if !seen[sc.ID] {
			seen[sc.ID] = true
			own = append(own, &sc)
		}
	}
	sortSchedules(own)
	return own, nil
}

// DeleteSchedule deletes a schedule.
func (s *CouchDB) DeleteSchedule(id string) error {
	return s.deleteDocument(id)
}

// ===============================================================
// Namespace prefixes
// ===============================================================

// SavePrefix saves a namespace prefix. Prefix names are unique.
func (s *CouchDB) SavePrefix(p *models.NamespacePrefix) error {
	if p.Context == "" {
		p.Context = models.Context
	}
	if p.Type == "" {
		p.Type = models.TypeNamespacePrefix
	}
	if err := s.ensureUnique(models.TypeNamespacePrefix, "name", p.Name, p.ID); err != nil {
		return err
	}
	return s.saveDocument(p, p.ID, func(rev string) { p.Rev = rev })
}

// GetPrefixByName retrieves a namespace prefix by name.
func (s *CouchDB) GetPrefixByName(name string) (*models.NamespacePrefix, error) {
	docs, err := findByType[models.NamespacePrefix](s, models.TypeNamespacePrefix, map[string]interface{}{"name": name})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("prefix %q: %w", name, ErrNotFound)
	}
	return &docs[0], nil
}

// ListPrefixes lists namespace prefixes ordered by name.
func (s *CouchDB) ListPrefixes() ([]*models.NamespacePrefix, error) {
	docs, err := findByType[models.NamespacePrefix](s, models.TypeNamespacePrefix, nil)
	if err != nil {
		return nil, err
	}
	result := make([]*models.NamespacePrefix, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	sortPrefixes(result)
	return result, nil
}

// DeletePrefix deletes a namespace prefix.
func (s *CouchDB) DeletePrefix(id string) error {
	return s.deleteDocument(id)
}
