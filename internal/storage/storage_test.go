package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"evalgo.org/unifiedviews/models"
)

func TestExecutionSelector(t *testing.T) {
	filter := ExecutionFilter{
		PipelineID: "pipeline:1",
		Status:     []models.ExecutionStatus{models.ExecutionFailed},
		Before:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	selector := executionSelector(filter)

	assert.Equal(t, models.TypeExecution, selector["@type"])
	assert.Equal(t, map[string]interface{}{"$eq": "pipeline:1"}, selector["pipelineId"])
	assert.Equal(t, map[string]interface{}{"$in": filter.Status}, selector["status"])
	assert.NotContains(t, selector, "dateCreated")
}

func TestExecutionFilterBeforeAcrossOffsets(t *testing.T) {
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	plus2 := time.FixedZone("+02:00", 2*60*60)
	minus5 := time.FixedZone("-05:00", -5*60*60)

	tests := []struct {
		name    string
		created time.Time
		want    bool
	}{
		// 2023-12-31T23:00Z, later as a string but earlier in time
		{name: "east of UTC", created: time.Date(2024, 1, 1, 1, 0, 0, 0, plus2), want: true},
		// 2024-01-01T04:00Z, earlier as a string but later in time
		{name: "west of UTC", created: time.Date(2023, 12, 31, 23, 0, 0, 0, minus5), want: false},
		{name: "at cutoff", created: cutoff.In(plus2), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := models.NewExecution("pipeline:1", "admin")
			e.CreatedAt = tt.created
			assert.Equal(t, tt.want, ExecutionFilter{Before: cutoff}.match(e))
		})
	}
}
