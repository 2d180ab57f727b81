package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"evalgo.org/unifiedviews/models"
)

// Memory is an in-process Store. Documents are kept as JSON so callers never
// share memory with the store.
type Memory struct {
	mu       sync.RWMutex
	docs     map[string]map[string][]byte // @type -> id -> document
	revs     map[string]int
	watchers map[int]ExecutionChangeHandler
	nextW    int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]map[string][]byte),
		revs:     make(map[string]int),
		watchers: make(map[int]ExecutionChangeHandler),
	}
}

// put stores v under id and returns the new revision. Callers hold mu.
func (m *Memory) put(docType, id string, v interface{}, setRev func(string)) error {
	m.revs[id]++
	rev := fmt.Sprintf("%d-%s", m.revs[id], strings.ReplaceAll(id, ":", ""))
	setRev(rev)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if m.docs[docType] == nil {
		m.docs[docType] = make(map[string][]byte)
	}
	m.docs[docType][id] = data
	return nil
}

func (m *Memory) remove(docType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[docType][id]; !ok {
		return fmt.Errorf("%s %s: %w", docType, id, ErrNotFound)
	}
	delete(m.docs[docType], id)
	delete(m.revs, id)
	return nil
}

func getDoc[T any](m *Memory, docType, id string) (*T, error) {
	m.mu.RLock()
	data, ok := m.docs[docType][id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", docType, id, ErrNotFound)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func listDocs[T any](m *Memory, docType string, keep func(*T) bool) ([]*T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*T, 0, len(m.docs[docType]))
	for _, data := range m.docs[docType] {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		if keep == nil || keep(&v) {
			result = append(result, &v)
		}
	}
	return result, nil
}

// uniqueLocked reports ErrConflict when another document of docType has the
// same value for the field extracted by key. Callers hold mu.
func uniqueLocked[T any](m *Memory, docType, id, value string, key func(*T) (string, string)) error {
	for otherID, data := range m.docs[docType] {
		if otherID == id {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		if _, other := key(&v); other == value {
			return fmt.Errorf("%s %q already exists: %w", strings.ToLower(docType), value, ErrConflict)
		}
	}
	return nil
}

// DPU templates

func (m *Memory) SaveDPUTemplate(t *models.DPUTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Context, t.Type = models.Context, models.TypeDPUTemplate
	err := uniqueLocked(m, models.TypeDPUTemplate, t.ID, t.Name, func(o *models.DPUTemplate) (string, string) { return o.ID, o.Name })
	if err != nil {
		return err
	}
	return m.put(models.TypeDPUTemplate, t.ID, t, func(rev string) { t.Rev = rev })
}

func (m *Memory) GetDPUTemplate(id string) (*models.DPUTemplate, error) {
	return getDoc[models.DPUTemplate](m, models.TypeDPUTemplate, id)
}

func (m *Memory) GetDPUTemplateByName(name string) (*models.DPUTemplate, error) {
	docs, err := listDocs(m, models.TypeDPUTemplate, func(t *models.DPUTemplate) bool { return t.Name == name })
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("dpu template %q: %w", name, ErrNotFound)
	}
	return docs[0], nil
}

func (m *Memory) ListDPUTemplates(filter DPUFilter) ([]*models.DPUTemplate, error) {
	docs, err := listDocs(m, models.TypeDPUTemplate, filter.match)
	if err != nil {
		return nil, err
	}
	sortTemplates(docs)
	return docs, nil
}

func (m *Memory) DeleteDPUTemplate(id string) error {
	return m.remove(models.TypeDPUTemplate, id)
}

// Pipelines

func (m *Memory) SavePipeline(p *models.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Context, p.Type = models.Context, models.TypePipeline
	err := uniqueLocked(m, models.TypePipeline, p.ID, p.Name, func(o *models.Pipeline) (string, string) { return o.ID, o.Name })
	if err != nil {
		return err
	}
	return m.put(models.TypePipeline, p.ID, p, func(rev string) { p.Rev = rev })
}

func (m *Memory) GetPipeline(id string) (*models.Pipeline, error) {
	return getDoc[models.Pipeline](m, models.TypePipeline, id)
}

func (m *Memory) ListPipelines(filter PipelineFilter) ([]*models.Pipeline, error) {
	docs, err := listDocs(m, models.TypePipeline, filter.match)
	if err != nil {
		return nil, err
	}
	sortPipelines(docs)
	return docs, nil
}

func (m *Memory) ListPipelinesUsingTemplate(templateID string) ([]*models.Pipeline, error) {
	docs, err := listDocs(m, models.TypePipeline, func(p *models.Pipeline) bool { return p.UsesTemplate(templateID) })
	if err != nil {
		return nil, err
	}
	sortPipelines(docs)
	return docs, nil
}

func (m *Memory) DeletePipeline(id string) error {
	return m.remove(models.TypePipeline, id)
}

// Executions

func (m *Memory) SaveExecution(e *models.Execution) error {
	m.mu.Lock()
	e.Context, e.Type = models.Context, models.TypeExecution
	_, existed := m.docs[models.TypeExecution][e.ID]
	if err := m.put(models.TypeExecution, e.ID, e, func(rev string) { e.Rev = rev }); err != nil {
		m.mu.Unlock()
		return err
	}
	handlers := m.watchersLocked()
	m.mu.Unlock()

	changeType := ChangeTypeCreated
	if existed {
		changeType = ChangeTypeUpdated
	}
	snapshot := *e
	for _, h := range handlers {
		h(ExecutionChange{Type: changeType, Execution: &snapshot})
	}
	return nil
}

func (m *Memory) GetExecution(id string) (*models.Execution, error) {
	return getDoc[models.Execution](m, models.TypeExecution, id)
}

func (m *Memory) ListExecutions(filter ExecutionFilter) ([]*models.Execution, error) {
	docs, err := listDocs(m, models.TypeExecution, filter.match)
	if err != nil {
		return nil, err
	}
	sortExecutions(docs)
	if filter.Limit > 0 && len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}
	return docs, nil
}

func (m *Memory) DeleteExecution(id string) error {
	if err := m.remove(models.TypeExecution, id); err != nil {
		return err
	}
	m.mu.RLock()
	handlers := m.watchersLocked()
	m.mu.RUnlock()
	for _, h := range handlers {
		h(ExecutionChange{Type: ChangeTypeDeleted, Execution: &models.Execution{ID: id}})
	}
	return nil
}

// WatchExecutions registers handler until ctx is done.
func (m *Memory) WatchExecutions(ctx context.Context, handler ExecutionChangeHandler) error {
	m.mu.Lock()
	id := m.nextW
	m.nextW++
	m.watchers[id] = handler
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) watchersLocked() []ExecutionChangeHandler {
	handlers := make([]ExecutionChangeHandler, 0, len(m.watchers))
	for _, h := range m.watchers {
		handlers = append(handlers, h)
	}
	return handlers
}

// Schedules

func (m *Memory) SaveSchedule(s *models.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Context, s.Type = models.Context, models.TypeSchedule
	return m.put(models.TypeSchedule, s.ID, s, func(rev string) { s.Rev = rev })
}

func (m *Memory) GetSchedule(id string) (*models.Schedule, error) {
	return getDoc[models.Schedule](m, models.TypeSchedule, id)
}

func (m *Memory) ListSchedules(filter ScheduleFilter) ([]*models.Schedule, error) {
	docs, err := listDocs(m, models.TypeSchedule, filter.match)
	if err != nil {
		return nil, err
	}
	sortSchedules(docs)
	return docs, nil
}

func (m *Memory) ListSchedulesForPipeline(pipelineID string) ([]*models.Schedule, error) {
	docs, err := listDocs(m, models.TypeSchedule, func(s *models.Schedule) bool {
		if s.PipelineID == pipelineID {
			return true
		}
		for _, after := range s.AfterPipelines {
			if after == pipelineID {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	sortSchedules(docs)
	return docs, nil
}

func (m *Memory) DeleteSchedule(id string) error {
	return m.remove(models.TypeSchedule, id)
}

// Users

func (m *Memory) SaveUser(u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Context, u.Type = models.Context, models.TypeUser
	if u.ID == "" {
		u.ID = models.GenerateID("user")
	}
	err := uniqueLocked(m, models.TypeUser, u.ID, u.Username, func(o *models.User) (string, string) { return o.ID, o.Username })
	if err != nil {
		return err
	}
	return m.put(models.TypeUser, u.ID, u, func(rev string) { u.Rev = rev })
}

func (m *Memory) GetUser(id string) (*models.User, error) {
	return getDoc[models.User](m, models.TypeUser, id)
}

func (m *Memory) GetUserByUsername(username string) (*models.User, error) {
	docs, err := listDocs(m, models.TypeUser, func(u *models.User) bool { return u.Username == username })
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return docs[0], nil
}

func (m *Memory) ListUsers() ([]*models.User, error) {
	docs, err := listDocs[models.User](m, models.TypeUser, nil)
	if err != nil {
		return nil, err
	}
	sortUsers(docs)
	return docs, nil
}

func (m *Memory) DeleteUser(id string) error {
	return m.remove(models.TypeUser, id)
}

// Namespace prefixes

func (m *Memory) SavePrefix(p *models.NamespacePrefix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Context, p.Type = models.Context, models.TypeNamespacePrefix
	err := uniqueLocked(m, models.TypeNamespacePrefix, p.ID, p.Name, func(o *models.NamespacePrefix) (string, string) { return o.ID, o.Name })
	if err != nil {
		return err
	}
	return m.put(models.TypeNamespacePrefix, p.ID, p, func(rev string) { p.Rev = rev })
}

func (m *Memory) GetPrefixByName(name string) (*models.NamespacePrefix, error) {
	docs, err := listDocs(m, models.TypeNamespacePrefix, func(p *models.NamespacePrefix) bool { return p.Name == name })
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("prefix %q: %w", name, ErrNotFound)
	}
	return docs[0], nil
}

func (m *Memory) ListPrefixes() ([]*models.NamespacePrefix, error) {
	docs, err := listDocs[models.NamespacePrefix](m, models.TypeNamespacePrefix, nil)
	if err != nil {
		return nil, err
	}
	sortPrefixes(docs)
	return docs, nil
}

func (m *Memory) DeletePrefix(id string) error {
	return m.remove(models.TypeNamespacePrefix, id)
}

// GetStatistics calculates dashboard statistics.
func (m *Memory) GetStatistics() (*Statistics, error) {
	return computeStatistics(m)
}

// Ping always succeeds.
func (m *Memory) Ping() error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var (
	_ Store = (*Memory)(nil)
	_ Store = (*CouchDB)(nil)
)
