package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrJobNotFound indicates the referenced job does not exist.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotRetryable indicates a retry was requested for a job that is not failed.
var ErrJobNotRetryable = errors.New("only failed jobs can be retried")

// jobColumns is the canonical select list for job rows.
const jobColumns = `id, type, client_id, status, current_stage, completed_steps, total_steps,
	percentage, progress_message, context_seed, context_document, result_document_id,
	error_reason, error_message, retry_count, retry_of,
	prompt_tokens, output_tokens, total_tokens, created_at, started_at, completed_at`

// pgx.Row and pgx.Rows both satisfy this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	err := row.Scan(&job.ID, &job.Type, &job.ClientID, &job.Status,
		&job.Progress.CurrentStage, &job.Progress.CompletedSteps, &job.Progress.TotalSteps,
		&job.Progress.Percentage, &job.Progress.Message,
		&job.ContextSeed, &job.ContextDocument, &job.ResultDocumentID,
		&job.ErrorReason, &job.ErrorMessage, &job.RetryCount, &job.RetryOf,
		&job.PromptTokens, &job.OutputTokens, &job.TotalTokens,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// EnqueueJob creates a new job in pending. Seed validation failures are returned to
// the caller without creating a row.
func (db *DB) EnqueueJob(ctx context.Context, input *EnqueueJobInput) (*Job, error) {
	if input.Type == "" {
		return nil, fmt.Errorf("job type is required")
	}
	if input.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if len(input.ContextSeed) == 0 {
		return nil, fmt.Errorf("context seed is required")
	}
	if input.TotalSteps <= 0 {
		return nil, fmt.Errorf("total steps must be positive")
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO jobs (type, client_id, status, total_steps, context_seed, retry_count, retry_of)
		 VALUES ($1, $2, 'pending', $3, $4, $5, $6)
		 RETURNING `+jobColumns,
		input.Type, input.ClientID, input.TotalSteps, input.ContextSeed, input.RetryCount, input.RetryOf,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by ID. Returns nil, nil when the job does not exist.
func (db *DB) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves jobs with optional filters, newest first.
func (db *DB) ListJobs(ctx context.Context, filters JobFilters) ([]Job, error) {
	if filters.Limit == 0 {
		filters.Limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.ClientID != "" {
		query += fmt.Sprintf(" AND client_id = $%d", argNum)
		args = append(args, filters.ClientID)
		argNum++
	}
	if filters.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, filters.Type)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, filters.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// ClaimNextJobs atomically claims up to limit pending jobs in FIFO creation order
// and transitions them to running. FOR UPDATE SKIP LOCKED guarantees two workers
// never claim the same job.
func (db *DB) ClaimNextJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := db.pool.Query(ctx,
		`WITH claimable AS (
			SELECT id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 UPDATE jobs SET status = 'running', started_at = NOW()
		 FROM claimable
		 WHERE jobs.id = claimable.id
		 RETURNING `+jobColumns,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// RecordJobProgress is an idempotent partial update of a running job's progress.
// It never changes status; once a job is terminal the update is a no-op.
func (db *DB) RecordJobProgress(ctx context.Context, jobID uuid.UUID, progress JobProgress) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET current_stage = $1, completed_steps = $2, total_steps = $3,
		     percentage = $4, progress_message = $5
		 WHERE id = $6 AND status = 'running'`,
		progress.CurrentStage, progress.CompletedSteps, progress.TotalSteps,
		progress.Percentage, progress.Message, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to record job progress: %w", err)
	}
	return nil
}

// CompleteJob makes the terminal transition to completed. The status guard makes a
// second terminal call on the same job a no-op, never an error, so duplicate
// completion signals are harmless. The returned bool reports whether this call won
// the transition; false means the job was already terminal.
func (db *DB) CompleteJob(ctx context.Context, jobID uuid.UUID, input *CompleteJobInput) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'completed', completed_at = NOW(), percentage = 100,
		     context_document = $1, result_document_id = $2,
		     prompt_tokens = $3, output_tokens = $4, total_tokens = $5
		 WHERE id = $6 AND status IN ('pending', 'running')`,
		input.ContextDocument, input.ResultDocumentID,
		input.PromptTokens, input.OutputTokens, input.TotalTokens, jobID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailJob makes the terminal transition to failed with the attributed reason. Like
// CompleteJob, it is a no-op on an already-terminal job and reports whether this
// call won the transition.
func (db *DB) FailJob(ctx context.Context, jobID uuid.UUID, input *FailJobInput) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'failed', completed_at = NOW(),
		     error_reason = $1, error_message = $2, context_document = $3,
		     prompt_tokens = $4, output_tokens = $5, total_tokens = $6
		 WHERE id = $7 AND status IN ('pending', 'running')`,
		input.ErrorReason, input.ErrorMessage, input.ContextDocument,
		input.PromptTokens, input.OutputTokens, input.TotalTokens, jobID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailStaleJobs force-fails running jobs whose started_at precedes the cutoff, with
// reason timeout. Used by the watchdog; safe to race with workers because terminal
// transitions are guarded on current status.
func (db *DB) FailStaleJobs(ctx context.Context, startedBefore time.Time) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`UPDATE jobs
		 SET status = 'failed', completed_at = NOW(),
		     error_reason = $1, error_message = 'job exceeded time budget'
		 WHERE status = 'running' AND started_at < $2
		 RETURNING id`,
		ErrorReasonTimeout, startedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reap stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reaped job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RetryJob creates a new pending job referencing a failed job's seed. History is
// never mutated: the failed job keeps its terminal state. Returns an error when the
// source job does not exist or is not failed.
func (db *DB) RetryJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	source, err := db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if source.Status != JobStatusFailed {
		return nil, fmt.Errorf("%w (job %s is %s)", ErrJobNotRetryable, jobID, source.Status)
	}

	return db.EnqueueJob(ctx, &EnqueueJobInput{
		Type:        source.Type,
		ClientID:    source.ClientID,
		ContextSeed: source.ContextSeed,
		TotalSteps:  source.Progress.TotalSteps,
		RetryOf:     &source.ID,
		RetryCount:  source.RetryCount + 1,
	})
}
