package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusConstants(t *testing.T) {
	assert.Equal(t, "pending", JobStatusPending)
	assert.Equal(t, "running", JobStatusRunning)
	assert.Equal(t, "completed", JobStatusCompleted)
	assert.Equal(t, "failed", JobStatusFailed)
}

func TestErrorReasonConstants(t *testing.T) {
	assert.Equal(t, "precondition_failure", ErrorReasonPrecondition)
	assert.Equal(t, "stage_execution_error", ErrorReasonStageExecution)
	assert.Equal(t, "infrastructure_error", ErrorReasonInfrastructure)
	assert.Equal(t, "timeout", ErrorReasonTimeout)
}

func TestJobTerminal(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			job := Job{Status: tt.status}
			assert.Equal(t, tt.terminal, job.Terminal())
		})
	}
}

func TestEnqueueJobInputValidation(t *testing.T) {
	db := &DB{}

	tests := []struct {
		name    string
		input   *EnqueueJobInput
		wantErr string
	}{
		{
			name:    "missing type",
			input:   &EnqueueJobInput{ClientID: "c1", ContextSeed: []byte(`{}`), TotalSteps: 4},
			wantErr: "job type is required",
		},
		{
			name:    "missing client id",
			input:   &EnqueueJobInput{Type: "training", ContextSeed: []byte(`{}`), TotalSteps: 4},
			wantErr: "client id is required",
		},
		{
			name:    "missing seed",
			input:   &EnqueueJobInput{Type: "training", ClientID: "c1", TotalSteps: 4},
			wantErr: "context seed is required",
		},
		{
			name:    "zero steps",
			input:   &EnqueueJobInput{Type: "training", ClientID: "c1", ContextSeed: []byte(`{}`)},
			wantErr: "total steps must be positive",
		},
	}

	// Validation rejects before any SQL runs, so the nil pool is never touched.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.EnqueueJob(context.Background(), tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJobFiltersDefaults(t *testing.T) {
	filters := JobFilters{}
	assert.Empty(t, filters.Status)
	assert.Empty(t, filters.ClientID)
	assert.Zero(t, filters.Limit)
}

func TestJobProgressFields(t *testing.T) {
	p := JobProgress{
		CurrentStage:   "training_split",
		CompletedSteps: 2,
		TotalSteps:     4,
		Percentage:     50,
		Message:        "Completed stage training_split",
	}
	assert.Equal(t, "training_split", p.CurrentStage)
	assert.Equal(t, 50, p.Percentage)
}

func TestRetryOfReference(t *testing.T) {
	source := uuid.New()
	input := EnqueueJobInput{RetryOf: &source, RetryCount: 1}
	require.NotNil(t, input.RetryOf)
	assert.Equal(t, source, *input.RetryOf)
}
