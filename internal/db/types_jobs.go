package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus constants. pending and running are the only non-terminal states; a job
// never leaves completed or failed.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// ErrorReason constants form the failure taxonomy persisted on failed jobs.
const (
	// ErrorReasonPrecondition: a stage's required fields were missing, which
	// indicates an orchestration defect or corrupted document.
	ErrorReasonPrecondition = "precondition_failure"
	// ErrorReasonStageExecution: the reasoning engine call failed or returned
	// output violating the stage's contract.
	ErrorReasonStageExecution = "stage_execution_error"
	// ErrorReasonInfrastructure: the worker itself failed independent of any
	// stage's logic (store unreachable, panic).
	ErrorReasonInfrastructure = "infrastructure_error"
	// ErrorReasonTimeout: the watchdog force-failed the job past its time budget.
	ErrorReasonTimeout = "timeout"
)

// JobProgress tracks how far a running job has advanced through its pipeline.
type JobProgress struct {
	CurrentStage   string `json:"current_stage"`
	CompletedSteps int    `json:"completed_steps"`
	TotalSteps     int    `json:"total_steps"`
	Percentage     int    `json:"percentage"`
	Message        string `json:"message"`
}

// Job is one durable unit of scheduled pipeline work.
type Job struct {
	ID               uuid.UUID       `json:"id"`
	Type             string          `json:"type"`
	ClientID         string          `json:"client_id"`
	Status           string          `json:"status"`
	Progress         JobProgress     `json:"progress"`
	ContextSeed      json.RawMessage `json:"context_seed,omitempty"`
	ContextDocument  json.RawMessage `json:"context_document,omitempty"`
	ResultDocumentID *uuid.UUID      `json:"result_document_id,omitempty"`
	ErrorReason      *string         `json:"error_reason,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	RetryCount       int             `json:"retry_count"`
	RetryOf          *uuid.UUID      `json:"retry_of,omitempty"`
	PromptTokens     int64           `json:"prompt_tokens"`
	OutputTokens     int64           `json:"output_tokens"`
	TotalTokens      int64           `json:"total_tokens"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a terminal state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// EnqueueJobInput is the caller-supplied seed for a new job.
type EnqueueJobInput struct {
	Type        string
	ClientID    string
	ContextSeed json.RawMessage
	TotalSteps  int
	RetryOf     *uuid.UUID
	RetryCount  int
}

// JobFilters holds optional filters for listing jobs.
type JobFilters struct {
	Status   string
	ClientID string
	Type     string
	Limit    int
}

// CompleteJobInput carries the final artifacts committed on success.
type CompleteJobInput struct {
	ContextDocument  json.RawMessage
	ResultDocumentID *uuid.UUID
	PromptTokens     int64
	OutputTokens     int64
	TotalTokens      int64
}

// FailJobInput carries the failure attribution and partial artifacts.
type FailJobInput struct {
	ErrorReason     string
	ErrorMessage    string
	ContextDocument json.RawMessage
	PromptTokens    int64
	OutputTokens    int64
	TotalTokens     int64
}
