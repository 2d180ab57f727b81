package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"eve.evalgo.org/db"

	"evalgo.org/unifiedviews/models"
)

// ChangeType represents the type of change that occurred.
type ChangeType string

const (
	ChangeTypeCreated ChangeType = "created"
	ChangeTypeUpdated ChangeType = "updated"
	ChangeTypeDeleted ChangeType = "deleted"
)

// ExecutionChange represents a change to an execution, typically a status
// update written by the backend engine.
type ExecutionChange struct {
	Type      ChangeType
	Execution *models.Execution
	Sequence  string
}

// ExecutionChangeHandler handles execution changes.
type ExecutionChangeHandler func(change ExecutionChange)

// WatchExecutions listens for execution changes until ctx is done.
func (s *CouchDB) WatchExecutions(ctx context.Context, handler ExecutionChangeHandler) error {
	opts := db.ChangesFeedOptions{
		Since:       "now",
		Feed:        "continuous",
		IncludeDocs: true,
		Heartbeat:   30000, // 30 seconds
		Selector: map[string]interface{}{
			"@type": models.TypeExecution,
		},
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.service.ListenChanges(opts, func(change db.Change) {
			if ctx.Err() != nil {
				return
			}
			if ec := processExecutionChange(change); ec != nil {
				handler(*ec)
			}
		})
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

// processExecutionChange converts a db.Change to an ExecutionChange.
func processExecutionChange(change db.Change) *ExecutionChange {
	if change.Deleted {
		return &ExecutionChange{
			Type:      ChangeTypeDeleted,
			Execution: &models.Execution{ID: change.ID},
			Sequence:  change.Seq,
		}
	}

	var execution models.Execution
	if err := json.Unmarshal(change.Doc, &execution); err != nil {
		return nil
	}

	changeType := ChangeTypeUpdated
	if len(change.Changes) > 0 && change.Changes[0].Rev == execution.Rev && isFirstRevision(execution.Rev) {
		changeType = ChangeTypeCreated
	}

	return &ExecutionChange{
		Type:      changeType,
		Execution: &execution,
		Sequence:  change.Seq,
	}
}

// isFirstRevision reports whether rev is a "1-..." revision.
func isFirstRevision(rev string) bool {
	return len(rev) > 2 && rev[0] == '1' && rev[1] == '-'
}

// String returns a formatted string representation of the execution change.
func (c *ExecutionChange) String() string {
	if c.Type == ChangeTypeDeleted {
		return fmt.Sprintf("[%s] Execution deleted: %s", c.Type, c.Execution.ID)
	}
	return fmt.Sprintf("[%s] Execution: %s (pipeline %s) - Status: %s",
		c.Type,
		c.Execution.ID,
		c.Execution.PipelineID,
		c.Execution.Status,
	)
}
