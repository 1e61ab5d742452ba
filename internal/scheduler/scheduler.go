// Package scheduler polls the job store for pending work and executes claimed jobs
// through the pipeline orchestrator, bounded by a configured concurrency ceiling.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coachplan/plan-engine/internal/contextdoc"
	"github.com/coachplan/plan-engine/internal/db"
	"github.com/coachplan/plan-engine/internal/pipeline"
)

// JobStore is the narrow view of the job store the scheduler needs.
type JobStore interface {
	ClaimNextJobs(ctx context.Context, limit int) ([]db.Job, error)
	RecordJobProgress(ctx context.Context, jobID uuid.UUID, progress db.JobProgress) error
	CompleteJob(ctx context.Context, jobID uuid.UUID, input *db.CompleteJobInput) (bool, error)
	FailJob(ctx context.Context, jobID uuid.UUID, input *db.FailJobInput) (bool, error)
}

// SnapshotStore records immutable audit snapshots of orchestrator invocations.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, input *db.CreateSnapshotInput) (*db.Snapshot, error)
}

// Runner executes one pipeline run. *pipeline.Orchestrator satisfies this.
type Runner interface {
	Run(ctx context.Context, pipelineType string, doc *contextdoc.Document, onProgress pipeline.ProgressCallback) (*pipeline.Result, error)
}

// Config holds scheduler tunables.
type Config struct {
	MaxConcurrent int
	PollInterval  time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 2,
		PollInterval:  5 * time.Second,
	}
}

// Scheduler is the bounded worker pool. Each claimed job runs in its own goroutine;
// the semaphore guarantees the concurrency ceiling is never exceeded even under
// bursty enqueue rates.
type Scheduler struct {
	store     JobStore
	snapshots SnapshotStore
	runner    Runner
	cfg       Config

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a scheduler. Zero or negative config values fall back to defaults.
func New(store JobStore, snapshots SnapshotStore, runner Runner, cfg Config) *Scheduler {
	defaults := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	return &Scheduler{
		store:     store,
		snapshots: snapshots,
		runner:    runner,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Run polls for pending jobs until ctx is cancelled, then waits for in-flight jobs
// to finish. Poll errors are logged and retried on the next tick; they never stop
// the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	fmt.Printf("Scheduler started (concurrency %d, poll interval %s)\n", s.cfg.MaxConcurrent, s.cfg.PollInterval)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.poll(ctx)

		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// poll claims at most the number of free worker slots and dispatches each job.
func (s *Scheduler) poll(ctx context.Context) {
	free := s.cfg.MaxConcurrent - len(s.sem)
	if free <= 0 {
		return
	}

	jobs, err := s.store.ClaimNextJobs(ctx, free)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Printf("Warning: failed to claim jobs: %v\n", err)
		}
		return
	}

	for _, job := range jobs {
		s.sem <- struct{}{}
		s.wg.Add(1)
		go func(job db.Job) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.runJob(ctx, job)
		}(job)
	}
}

// runJob executes one claimed job end to end and commits the outcome. A panic or
// store failure inside one job is contained here: it fails that job with
// infrastructure_error and never crashes the scheduler.
func (s *Scheduler) runJob(ctx context.Context, job db.Job) {
	// Terminal commits and snapshots must land even when ctx was cancelled by a
	// shutdown; otherwise the job sits running until the watchdog mislabels it a
	// timeout.
	commitCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Warning: job %s panicked: %v\n", job.ID, r)
			_, _ = s.store.FailJob(commitCtx, job.ID, &db.FailJobInput{
				ErrorReason:  db.ErrorReasonInfrastructure,
				ErrorMessage: fmt.Sprintf("worker panic: %v", r),
			})
		}
	}()

	fmt.Printf("Job %s: starting %s pipeline for client %s\n", job.ID, job.Type, job.ClientID)

	seed, err := contextdoc.ParseSeed(job.ContextSeed)
	if err != nil {
		s.commitFailure(commitCtx, job, nil, "", db.ErrorReasonInfrastructure, fmt.Sprintf("invalid context seed: %v", err), pipeline.Result{})
		return
	}

	doc := seed.NewDocument(job.ClientID)
	onProgress := func(e pipeline.ProgressEvent) {
		_ = s.store.RecordJobProgress(ctx, job.ID, db.JobProgress{
			CurrentStage:   e.Stage,
			CompletedSteps: e.CompletedSteps,
			TotalSteps:     e.TotalSteps,
			Percentage:     e.Percentage,
			Message:        e.Message,
		})
	}

	result, runErr := s.runner.Run(ctx, job.Type, doc, onProgress)
	if runErr != nil {
		reason := db.ErrorReasonInfrastructure
		message := runErr.Error()
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			// A shutdown aborted the run mid-stage; do not attribute that to the
			// stage that happened to be executing.
			message = fmt.Sprintf("run interrupted by shutdown: %v", runErr)
		} else {
			var stageErr *pipeline.StageError
			if errors.As(runErr, &stageErr) {
				reason = stageErr.Reason
			}
		}
		partial := pipeline.Result{}
		if result != nil {
			partial = *result
		}
		s.commitFailure(commitCtx, job, docJSON(result), rawResponse(result), reason, message, partial)
		return
	}

	finalDoc := docJSON(result)
	snap := s.recordSnapshot(commitCtx, job, finalDoc, result.LastRawResponse, db.SnapshotStatusSuccess, nil)

	var resultID *uuid.UUID
	if snap != nil {
		resultID = &snap.ID
	}
	applied, err := s.store.CompleteJob(commitCtx, job.ID, &db.CompleteJobInput{
		ContextDocument:  finalDoc,
		ResultDocumentID: resultID,
		PromptTokens:     int64(result.Usage.PromptTokens),
		OutputTokens:     int64(result.Usage.OutputTokens),
		TotalTokens:      int64(result.Usage.TotalTokens),
	})
	if err != nil {
		fmt.Printf("Warning: failed to complete job %s: %v\n", job.ID, err)
		return
	}
	if !applied {
		fmt.Printf("Warning: job %s finished after it was already marked terminal (likely reaped as timed out); keeping snapshot as an audit record\n", job.ID)
		return
	}
	fmt.Printf("Job %s: completed (%d tokens)\n", job.ID, result.Usage.TotalTokens)
}

// commitFailure durably records a failed run: the job's terminal state and a failed
// snapshot carrying the document as far as it was built.
func (s *Scheduler) commitFailure(ctx context.Context, job db.Job, partialDoc json.RawMessage, raw string, reason, message string, result pipeline.Result) {
	fmt.Printf("Job %s: failed (%s): %s\n", job.ID, reason, message)

	applied, err := s.store.FailJob(ctx, job.ID, &db.FailJobInput{
		ErrorReason:     reason,
		ErrorMessage:    message,
		ContextDocument: partialDoc,
		PromptTokens:    int64(result.Usage.PromptTokens),
		OutputTokens:    int64(result.Usage.OutputTokens),
		TotalTokens:     int64(result.Usage.TotalTokens),
	})
	if err != nil {
		fmt.Printf("Warning: failed to mark job %s failed: %v\n", job.ID, err)
	}
	if err == nil && !applied {
		// Someone else (the watchdog, a duplicate commit) already decided this
		// job's outcome; a failed snapshot would contradict the recorded state.
		return
	}

	if partialDoc != nil {
		s.recordSnapshot(ctx, job, partialDoc, raw, db.SnapshotStatusFailed, &message)
	}
}

// recordSnapshot writes the audit snapshot. Snapshot failures are logged, never
// fatal: the job outcome is already decided.
func (s *Scheduler) recordSnapshot(ctx context.Context, job db.Job, input json.RawMessage, raw, status string, errorMessage *string) *db.Snapshot {
	snap, err := s.snapshots.CreateSnapshot(ctx, &db.CreateSnapshotInput{
		ClientID:     job.ClientID,
		WorkflowName: job.Type,
		Input:        input,
		Response:     raw,
		Status:       status,
		ErrorMessage: errorMessage,
	})
	if err != nil {
		fmt.Printf("Warning: failed to record snapshot for job %s: %v\n", job.ID, err)
		return nil
	}
	return snap
}

func docJSON(result *pipeline.Result) json.RawMessage {
	if result == nil || result.Document == nil {
		return nil
	}
	data, err := json.Marshal(result.Document)
	if err != nil {
		fmt.Printf("Warning: failed to marshal context document: %v\n", err)
		return nil
	}
	return data
}

func rawResponse(result *pipeline.Result) string {
	if result == nil {
		return ""
	}
	return result.LastRawResponse
}
