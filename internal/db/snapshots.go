package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// The snapshots collection is append-only: this file deliberately exposes no update
// or delete operations. Every run, success or failure, produces exactly one record.

// CreateSnapshot records one immutable audit snapshot of an orchestrator invocation.
// For failed runs the input is the document as far as it was built and the response
// may be empty.
func (db *DB) CreateSnapshot(ctx context.Context, input *CreateSnapshotInput) (*Snapshot, error) {
	if input.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if input.Status != SnapshotStatusSuccess && input.Status != SnapshotStatusFailed {
		return nil, fmt.Errorf("invalid snapshot status: %s", input.Status)
	}

	var snap Snapshot
	err := db.pool.QueryRow(ctx,
		`INSERT INTO snapshots (client_id, workflow_name, input, response, status, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, client_id, workflow_name, input, response, status, error_message, created_at`,
		input.ClientID, input.WorkflowName, input.Input, input.Response, input.Status, input.ErrorMessage,
	).Scan(&snap.ID, &snap.ClientID, &snap.WorkflowName, &snap.Input, &snap.Response,
		&snap.Status, &snap.ErrorMessage, &snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	return &snap, nil
}

// GetSnapshot retrieves a snapshot by ID. Returns nil, nil when it does not exist.
func (db *DB) GetSnapshot(ctx context.Context, snapshotID uuid.UUID) (*Snapshot, error) {
	var snap Snapshot
	err := db.pool.QueryRow(ctx,
		`SELECT id, client_id, workflow_name, input, response, status, error_message, created_at
		 FROM snapshots WHERE id = $1`,
		snapshotID,
	).Scan(&snap.ID, &snap.ClientID, &snap.WorkflowName, &snap.Input, &snap.Response,
		&snap.Status, &snap.ErrorMessage, &snap.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots retrieves a client's snapshots, newest first.
func (db *DB) ListSnapshots(ctx context.Context, clientID string, limit int) ([]Snapshot, error) {
	if limit == 0 {
		limit = 50
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, client_id, workflow_name, input, response, status, error_message, created_at
		 FROM snapshots
		 WHERE client_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		clientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.ClientID, &snap.WorkflowName, &snap.Input, &snap.Response,
			&snap.Status, &snap.ErrorMessage, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
