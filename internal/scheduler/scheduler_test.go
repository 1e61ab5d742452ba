package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachplan/plan-engine/internal/contextdoc"
	"github.com/coachplan/plan-engine/internal/db"
	"github.com/coachplan/plan-engine/internal/llm"
	"github.com/coachplan/plan-engine/internal/pipeline"
	"github.com/coachplan/plan-engine/internal/stage"
)

// memStore is an in-memory job and snapshot store mirroring the SQL semantics the
// scheduler depends on: FIFO claiming, status-guarded terminal transitions, and
// append-only snapshots.
type memStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*db.Job
	order     []uuid.UUID
	snapshots []db.Snapshot
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*db.Job)}
}

func (m *memStore) enqueue(jobType, clientID string, seed json.RawMessage, totalSteps int) *db.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &db.Job{
		ID:          uuid.New(),
		Type:        jobType,
		ClientID:    clientID,
		Status:      db.JobStatusPending,
		ContextSeed: seed,
		Progress:    db.JobProgress{TotalSteps: totalSteps},
		CreatedAt:   time.Now(),
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	return job
}

func (m *memStore) get(id uuid.UUID) db.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) countByStatus(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.Status == status {
			n++
		}
	}
	return n
}

func (m *memStore) ClaimNextJobs(_ context.Context, limit int) ([]db.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []db.Job
	for _, id := range m.order {
		if len(claimed) >= limit {
			break
		}
		job := m.jobs[id]
		if job.Status != db.JobStatusPending {
			continue
		}
		job.Status = db.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (m *memStore) RecordJobProgress(_ context.Context, jobID uuid.UUID, progress db.JobProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok && job.Status == db.JobStatusRunning {
		job.Progress = progress
	}
	return nil
}

func (m *memStore) CompleteJob(ctx context.Context, jobID uuid.UUID, input *db.CompleteJobInput) (bool, error) {
	// Like pgx, refuse to issue the statement on a dead context.
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Terminal() {
		return false, nil
	}
	now := time.Now()
	job.Status = db.JobStatusCompleted
	job.CompletedAt = &now
	job.Progress.Percentage = 100
	job.ContextDocument = input.ContextDocument
	job.ResultDocumentID = input.ResultDocumentID
	job.TotalTokens = input.TotalTokens
	return true, nil
}

func (m *memStore) FailJob(ctx context.Context, jobID uuid.UUID, input *db.FailJobInput) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Terminal() {
		return false, nil
	}
	now := time.Now()
	job.Status = db.JobStatusFailed
	job.CompletedAt = &now
	job.ErrorReason = &input.ErrorReason
	job.ErrorMessage = &input.ErrorMessage
	job.ContextDocument = input.ContextDocument
	return true, nil
}

func (m *memStore) FailStaleJobs(_ context.Context, startedBefore time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, job := range m.jobs {
		if job.Status != db.JobStatusRunning || job.StartedAt == nil || !job.StartedAt.Before(startedBefore) {
			continue
		}
		now := time.Now()
		reason := db.ErrorReasonTimeout
		msg := "job exceeded time budget"
		job.Status = db.JobStatusFailed
		job.CompletedAt = &now
		job.ErrorReason = &reason
		job.ErrorMessage = &msg
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func (m *memStore) CreateSnapshot(_ context.Context, input *db.CreateSnapshotInput) (*db.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := db.Snapshot{
		ID:           uuid.New(),
		ClientID:     input.ClientID,
		WorkflowName: input.WorkflowName,
		Input:        input.Input,
		Response:     input.Response,
		Status:       input.Status,
		ErrorMessage: input.ErrorMessage,
		CreatedAt:    time.Now(),
	}
	m.snapshots = append(m.snapshots, snap)
	return &snap, nil
}

func (m *memStore) snapshotList() []db.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.Snapshot(nil), m.snapshots...)
}

// scriptedEngine feeds canned JSON responses to the real orchestrator.
type scriptedEngine struct {
	mu        sync.Mutex
	responses map[string]scriptedResponse
}

type scriptedResponse struct {
	body string
	err  error
}

func (e *scriptedEngine) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, llm.Usage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for marker, resp := range e.responses {
		if containsMarker(prompt, marker) {
			if resp.err != nil {
				return "", llm.Usage{}, resp.err
			}
			return resp.body, llm.Usage{PromptTokens: 100, OutputTokens: 20, TotalTokens: 120}, nil
		}
	}
	return "", llm.Usage{}, errors.New("no scripted response for prompt")
}

func (e *scriptedEngine) GetModel(llm.ModelTier) string { return "scripted" }

func (e *scriptedEngine) Close() error { return nil }

// containsMarker matches a response to the stage whose output contract names the
// marker field.
func containsMarker(prompt, marker string) bool {
	return strings.Contains(prompt, "\""+marker+"\": <your result>")
}

func trainingEngine() *scriptedEngine {
	return &scriptedEngine{responses: map[string]scriptedResponse{
		"client_summary":    {body: `{"assessment":{"client_summary":"experienced lifter"}}`},
		"split":             {body: `{"training":{"split":{"days":4}}}`},
		"progression_model": {body: `{"training":{"progression_model":{"scheme":"double progression"}}}`},
		"recovery_protocol": {body: `{"training":{"recovery_protocol":{"sleep_hours":8}}}`},
	}}
}

func seedJSON() json.RawMessage {
	return json.RawMessage(`{"raw_inputs":{"questionnaire":{"goal":"strength","days_per_week":4}}}`)
}

func newTestScheduler(store *memStore, runner Runner) *Scheduler {
	return New(store, store, runner, Config{MaxConcurrent: 2, PollInterval: time.Hour})
}

func TestScheduler_FullSuccess(t *testing.T) {
	store := newMemStore()
	job := store.enqueue(stage.PipelineTraining, "client-1", seedJSON(), 4)

	orch := pipeline.New(trainingEngine(), stage.NewRegistry())
	s := newTestScheduler(store, orch)

	s.poll(context.Background())
	s.wg.Wait()

	got := store.get(job.ID)
	assert.Equal(t, db.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress.Percentage)
	assert.Equal(t, 4, got.Progress.CompletedSteps)
	assert.Equal(t, int64(480), got.TotalTokens)
	require.NotNil(t, got.ResultDocumentID)

	var doc contextdoc.Document
	require.NoError(t, json.Unmarshal(got.ContextDocument, &doc))
	assert.True(t, doc.Has(stage.FieldClientSummary))
	assert.True(t, doc.Has(stage.FieldTrainingSplit))
	assert.True(t, doc.Has(stage.FieldProgressionModel))
	assert.True(t, doc.Has(stage.FieldRecoveryProtocol))

	snaps := store.snapshotList()
	require.Len(t, snaps, 1)
	assert.Equal(t, db.SnapshotStatusSuccess, snaps[0].Status)
	assert.Equal(t, *got.ResultDocumentID, snaps[0].ID)
	assert.Equal(t, stage.PipelineTraining, snaps[0].WorkflowName)
}

func TestScheduler_MidPipelineFailure(t *testing.T) {
	engine := trainingEngine()
	engine.responses["split"] = scriptedResponse{err: errors.New("engine unavailable")}

	store := newMemStore()
	job := store.enqueue(stage.PipelineTraining, "client-1", seedJSON(), 4)

	s := newTestScheduler(store, pipeline.New(engine, stage.NewRegistry()))
	s.poll(context.Background())
	s.wg.Wait()

	got := store.get(job.ID)
	assert.Equal(t, db.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorReason)
	assert.Equal(t, db.ErrorReasonStageExecution, *got.ErrorReason)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "training_split")

	// The partial document preserves the summary; later fields are null.
	var doc contextdoc.Document
	require.NoError(t, json.Unmarshal(got.ContextDocument, &doc))
	assert.True(t, doc.Has(stage.FieldClientSummary))
	assert.False(t, doc.Has(stage.FieldTrainingSplit))
	assert.False(t, doc.Has(stage.FieldRecoveryProtocol))

	snaps := store.snapshotList()
	require.Len(t, snaps, 1)
	assert.Equal(t, db.SnapshotStatusFailed, snaps[0].Status)
	require.NotNil(t, snaps[0].ErrorMessage)
}

// blockingRunner holds each run until released, for concurrency assertions.
type blockingRunner struct {
	started chan string
	release chan struct{}
}

func (r *blockingRunner) Run(_ context.Context, pipelineType string, doc *contextdoc.Document, _ pipeline.ProgressCallback) (*pipeline.Result, error) {
	r.started <- pipelineType
	<-r.release
	return &pipeline.Result{Document: doc}, nil
}

func TestScheduler_ConcurrencyCeiling(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 4; i++ {
		store.enqueue(stage.PipelineTraining, "client-1", seedJSON(), 4)
	}

	runner := &blockingRunner{started: make(chan string, 4), release: make(chan struct{})}
	s := newTestScheduler(store, runner)

	ctx := context.Background()
	s.poll(ctx)

	// Exactly two workers start; the other two jobs stay pending.
	<-runner.started
	<-runner.started
	assert.Equal(t, 2, store.countByStatus(db.JobStatusRunning))
	assert.Equal(t, 2, store.countByStatus(db.JobStatusPending))

	// Polling again with no free slots claims nothing.
	s.poll(ctx)
	select {
	case <-runner.started:
		t.Fatal("scheduler exceeded concurrency ceiling")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	s.wg.Wait()

	// Freed slots pick up the waiting jobs.
	s.poll(ctx)
	<-runner.started
	<-runner.started
	s.wg.Wait()
	assert.Equal(t, 4, store.countByStatus(db.JobStatusCompleted))
}

// panickyRunner simulates a worker crash inside a run.
type panickyRunner struct{}

func (panickyRunner) Run(context.Context, string, *contextdoc.Document, pipeline.ProgressCallback) (*pipeline.Result, error) {
	panic("document store connection lost")
}

func TestScheduler_WorkerPanicContained(t *testing.T) {
	store := newMemStore()
	job := store.enqueue(stage.PipelineTraining, "client-1", seedJSON(), 4)

	s := newTestScheduler(store, panickyRunner{})
	s.poll(context.Background())
	s.wg.Wait()

	got := store.get(job.ID)
	assert.Equal(t, db.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorReason)
	assert.Equal(t, db.ErrorReasonInfrastructure, *got.ErrorReason)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "worker panic")
}

// shutdownRunner blocks until its context is cancelled, then surfaces the
// cancellation the way a real engine call does.
type shutdownRunner struct {
	started chan struct{}
}

func (r *shutdownRunner) Run(ctx context.Context, _ string, doc *contextdoc.Document, _ pipeline.ProgressCallback) (*pipeline.Result, error) {
	close(r.started)
	<-ctx.Done()
	return &pipeline.Result{Document: doc}, &pipeline.StageError{
		Stage:  "intake_summary",
		Reason: db.ErrorReasonStageExecution,
		Err:    fmt.Errorf("generate content: %w", ctx.Err()),
	}
}

func TestScheduler_ShutdownCommitsInFlightOutcome(t *testing.T) {
	store := newMemStore()
	job := store.enqueue(stage.PipelineTraining, "client-1", seedJSON(), 4)

	runner := &shutdownRunner{started: make(chan struct{})}
	s := newTestScheduler(store, runner)

	ctx, cancel := context.WithCancel(context.Background())
	s.poll(ctx)
	<-runner.started
	cancel()
	s.wg.Wait()

	// The terminal state lands despite the cancelled context, attributed to the
	// shutdown rather than the stage that happened to be running.
	got := store.get(job.ID)
	assert.Equal(t, db.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorReason)
	assert.Equal(t, db.ErrorReasonInfrastructure, *got.ErrorReason)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "interrupted by shutdown")

	snaps := store.snapshotList()
	require.Len(t, snaps, 1)
	assert.Equal(t, db.SnapshotStatusFailed, snaps[0].Status)
}

func TestScheduler_LateSuccessAfterTimeoutKeepsTimeoutOutcome(t *testing.T) {
	store := newMemStore()
	job := store.enqueue(stage.PipelineTraining, "client-1", seedJSON(), 4)

	runner := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	s := newTestScheduler(store, runner)

	s.poll(context.Background())
	<-runner.started

	// The watchdog reaps the job while its worker is still executing.
	ids, err := store.FailStaleJobs(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	close(runner.release)
	s.wg.Wait()

	// The timeout outcome stands; the late success snapshot is kept as an audit
	// record but never linked as the job's result.
	got := store.get(job.ID)
	assert.Equal(t, db.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorReason)
	assert.Equal(t, db.ErrorReasonTimeout, *got.ErrorReason)
	assert.Nil(t, got.ResultDocumentID)
	assert.Equal(t, job.ID, ids[0])

	snaps := store.snapshotList()
	require.Len(t, snaps, 1)
	assert.Equal(t, db.SnapshotStatusSuccess, snaps[0].Status)
}

// blockingFailRunner blocks until released, then fails.
type blockingFailRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingFailRunner) Run(_ context.Context, _ string, doc *contextdoc.Document, _ pipeline.ProgressCallback) (*pipeline.Result, error) {
	close(r.started)
	<-r.release
	return &pipeline.Result{Document: doc}, &pipeline.StageError{
		Stage:  "training_split",
		Reason: db.ErrorReasonStageExecution,
		Err:    errors.New("engine unavailable"),
	}
}

func TestScheduler_LateFailureAfterTimeoutWritesNoSnapshot(t *testing.T) {
	store := newMemStore()
	job := store.enqueue(stage.PipelineTraining, "client-1", seedJSON(), 4)

	runner := &blockingFailRunner{started: make(chan struct{}), release: make(chan struct{})}
	s := newTestScheduler(store, runner)

	s.poll(context.Background())
	<-runner.started

	ids, err := store.FailStaleJobs(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	close(runner.release)
	s.wg.Wait()

	// The watchdog already decided the outcome; a contradicting failed snapshot
	// would orphan the job's recorded state.
	got := store.get(job.ID)
	assert.Equal(t, db.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorReason)
	assert.Equal(t, db.ErrorReasonTimeout, *got.ErrorReason)
	assert.Empty(t, store.snapshotList())
}

func TestScheduler_InvalidSeed(t *testing.T) {
	store := newMemStore()
	job := store.enqueue(stage.PipelineTraining, "client-1", json.RawMessage(`{"raw_inputs":{}}`), 4)

	s := newTestScheduler(store, pipeline.New(trainingEngine(), stage.NewRegistry()))
	s.poll(context.Background())
	s.wg.Wait()

	got := store.get(job.ID)
	assert.Equal(t, db.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorReason)
	assert.Equal(t, db.ErrorReasonInfrastructure, *got.ErrorReason)

	// No document was ever built, so no snapshot is written.
	assert.Empty(t, store.snapshotList())
}

func TestScheduler_ConfigDefaults(t *testing.T) {
	s := New(newMemStore(), newMemStore(), panickyRunner{}, Config{})
	assert.Equal(t, DefaultConfig().MaxConcurrent, s.cfg.MaxConcurrent)
	assert.Equal(t, DefaultConfig().PollInterval, s.cfg.PollInterval)
}
