package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Snapshot status constants.
const (
	SnapshotStatusSuccess = "success"
	SnapshotStatusFailed  = "failed"
)

// Snapshot is an immutable audit record of one orchestrator invocation: the full
// input document sent and the full raw output received. Once created it is never
// updated or deleted; history is append-only.
type Snapshot struct {
	ID           uuid.UUID       `json:"id"`
	ClientID     string          `json:"client_id"`
	WorkflowName string          `json:"workflow_name"`
	Input        json.RawMessage `json:"input"`
	Response     string          `json:"response"`
	Status       string          `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CreateSnapshotInput is the payload for recording one snapshot.
type CreateSnapshotInput struct {
	ClientID     string
	WorkflowName string
	Input        json.RawMessage
	Response     string
	Status       string
	ErrorMessage *string
}
