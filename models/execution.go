package models

import "time"

// ExecutionStatus is the lifecycle state of a pipeline execution.
type ExecutionStatus string

const (
	ExecutionQueued          ExecutionStatus = "QUEUED"
	ExecutionRunning         ExecutionStatus = "RUNNING"
	ExecutionCancelling      ExecutionStatus = "CANCELLING"
	ExecutionCancelled       ExecutionStatus = "CANCELLED"
	ExecutionFailed          ExecutionStatus = "FAILED"
	ExecutionFinishedSuccess ExecutionStatus = "FINISHED_SUCCESS"
	ExecutionFinishedWarning ExecutionStatus = "FINISHED_WARNING"
)

// IsFinished reports whether the status is terminal.
func (s ExecutionStatus) IsFinished() bool {
	switch s {
	case ExecutionCancelled, ExecutionFailed, ExecutionFinishedSuccess, ExecutionFinishedWarning:
		return true
	}
	return false
}

// IsSuccess reports whether the execution finished without failing.
func (s ExecutionStatus) IsSuccess() bool {
	return s == ExecutionFinishedSuccess || s == ExecutionFinishedWarning
}

// DataUnitType is the kind of data a data unit carries.
type DataUnitType string

const (
	DataUnitRDF        DataUnitType = "rdf"
	DataUnitFile       DataUnitType = "file"
	DataUnitRelational DataUnitType = "relational"
)

// DataUnitInfo describes a data unit produced or consumed by a node during an
// execution. RDF data units are stored in the named graph GraphIRI.
type DataUnitInfo struct {
	NodeID    string       `json:"nodeId"`
	Name      string       `json:"name"`
	Type      DataUnitType `json:"type"`
	Direction string       `json:"direction"` // input, output
	GraphIRI  string       `json:"graphIri,omitempty"`
}

// Execution is a single run of a pipeline.
type Execution struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`

	ID  string `json:"@id" couchdb:"_id"`
	Rev string `json:"_rev,omitempty" couchdb:"_rev"`

	PipelineID  string          `json:"pipelineId"`
	Status      ExecutionStatus `json:"status"`
	DebugMode   bool            `json:"debugMode"`
	DebugNodeID string          `json:"debugNodeId,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	ScheduleID  string          `json:"scheduleId,omitempty"`

	CreatedAt time.Time  `json:"dateCreated"`
	StartedAt *time.Time `json:"startTime,omitempty"`
	EndedAt   *time.Time `json:"endTime,omitempty"`

	// WorkingDir is the execution's directory below the working directory root.
	WorkingDir string         `json:"workingDir,omitempty"`
	DataUnits  []DataUnitInfo `json:"dataUnits,omitempty"`
}

// NewExecution creates a queued execution of the pipeline.
func NewExecution(pipelineID, owner string) *Execution {
	return &Execution{
		Context:    Context,
		Type:       TypeExecution,
		ID:         GenerateID("execution"),
		PipelineID: pipelineID,
		Status:     ExecutionQueued,
		Owner:      owner,
		CreatedAt:  time.Now(),
	}
}

// IsFinished reports whether the execution reached a terminal state.
func (e *Execution) IsFinished() bool {
	return e.Status.IsFinished()
}

// CanCancel reports whether the execution may still be cancelled.
func (e *Execution) CanCancel() bool {
	return e.Status == ExecutionQueued || e.Status == ExecutionRunning
}

// Cancel moves the execution towards the cancelled state. Queued executions
// are cancelled immediately; running ones are flagged for the backend.
func (e *Execution) Cancel() {
	now := time.Now()
	switch e.Status {
	case ExecutionQueued:
		e.Status = ExecutionCancelled
		e.EndedAt = &now
	case ExecutionRunning:
		e.Status = ExecutionCancelling
	}
}

// DataUnit returns the data unit at index i, or nil.
func (e *Execution) DataUnit(i int) *DataUnitInfo {
	if i < 0 || i >= len(e.DataUnits) {
		return nil
	}
	return &e.DataUnits[i]
}
