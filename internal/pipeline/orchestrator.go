// Package pipeline provides the orchestrator that executes one pipeline run: a
// strictly sequential walk over a pipeline type's stages against a context document.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/coachplan/plan-engine/internal/contextdoc"
	"github.com/coachplan/plan-engine/internal/db"
	"github.com/coachplan/plan-engine/internal/llm"
	"github.com/coachplan/plan-engine/internal/stage"
)

// ProgressEvent represents a progress update during pipeline execution.
type ProgressEvent struct {
	Stage          string `json:"stage"`
	CompletedSteps int    `json:"completed_steps"`
	TotalSteps     int    `json:"total_steps"`
	Percentage     int    `json:"percentage"`
	Message        string `json:"message"`
}

// ProgressCallback is called after each stage's output has been merged.
type ProgressCallback func(event ProgressEvent)

// StageRecord is the execution record for one stage attempt.
type StageRecord struct {
	Stage      string    `json:"stage"`
	DurationMs int64     `json:"duration_ms"`
	Usage      llm.Usage `json:"usage"`
	Success    bool      `json:"success"`
}

// Result holds the outcome of a run: the context document as far as it was built,
// the ordered per-stage records, aggregate token usage, and the raw response of the
// last attempted stage. On failure the document preserves every field written before
// the failing stage.
type Result struct {
	Document        *contextdoc.Document
	Records         []StageRecord
	Usage           llm.Usage
	LastRawResponse string
}

// StageError is a run failure attributed to a specific stage, carrying the error
// reason persisted on the job.
type StageError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Orchestrator executes pipeline runs. It owns context document mutation for the
// duration of a run; all stage calls go through the injected engine client.
type Orchestrator struct {
	engine   llm.Client
	registry *stage.Registry
}

// New creates an orchestrator backed by the given engine and pipeline registry.
func New(engine llm.Client, registry *stage.Registry) *Orchestrator {
	return &Orchestrator{engine: engine, registry: registry}
}

// Run executes the named pipeline against doc, strictly in stage order. A single
// stage failure aborts the run with the failure attributed to that stage; no stage
// is retried or skipped. The returned Result is non-nil even on failure so callers
// can persist the partial document and records for forensics.
func (o *Orchestrator) Run(ctx context.Context, pipelineType string, doc *contextdoc.Document, onProgress ProgressCallback) (*Result, error) {
	p, err := o.registry.Pipeline(pipelineType)
	if err != nil {
		return nil, err
	}

	result := &Result{Document: doc}
	total := p.TotalSteps()

	for i, s := range p.Stages {
		fmt.Printf("Stage %d/%d: %s...\n", i+1, total, s.Name())

		if !s.ValidateInput(doc) {
			rec := StageRecord{Stage: s.Name()}
			result.Records = append(result.Records, rec)
			return result, &StageError{
				Stage:  s.Name(),
				Reason: db.ErrorReasonPrecondition,
				Err:    fmt.Errorf("required fields not populated: %v", missingFields(s, doc)),
			}
		}

		scoped, err := contextdoc.BuildScopedInput(doc, s.RequiredFields(), i, p.Scope)
		if err != nil {
			result.Records = append(result.Records, StageRecord{Stage: s.Name()})
			return result, &StageError{Stage: s.Name(), Reason: db.ErrorReasonPrecondition, Err: err}
		}

		started := time.Now()
		raw, usage, err := s.Execute(ctx, o.engine, scoped)
		rec := StageRecord{
			Stage:      s.Name(),
			DurationMs: time.Since(started).Milliseconds(),
			Usage:      usage,
		}
		result.Usage.Add(usage)
		result.LastRawResponse = raw

		if err != nil {
			result.Records = append(result.Records, rec)
			return result, &StageError{Stage: s.Name(), Reason: db.ErrorReasonStageExecution, Err: err}
		}

		// Output validation failures are treated identically to execution failures.
		frag, err := s.ProcessOutput(raw)
		if err != nil {
			result.Records = append(result.Records, rec)
			return result, &StageError{Stage: s.Name(), Reason: db.ErrorReasonStageExecution, Err: err}
		}

		// A double write here means the pipeline definition violates field
		// exclusivity, which is an orchestration defect, not a transient error.
		if err := doc.WriteField(frag.Field, frag.Value); err != nil {
			result.Records = append(result.Records, rec)
			return result, &StageError{Stage: s.Name(), Reason: db.ErrorReasonPrecondition, Err: err}
		}

		rec.Success = true
		result.Records = append(result.Records, rec)

		if onProgress != nil {
			onProgress(ProgressEvent{
				Stage:          s.Name(),
				CompletedSteps: i + 1,
				TotalSteps:     total,
				Percentage:     (i + 1) * 100 / total,
				Message:        fmt.Sprintf("Completed stage %s", s.Name()),
			})
		}
	}

	return result, nil
}

// missingFields lists the stage's required fields absent from the document.
func missingFields(s stage.Stage, doc *contextdoc.Document) []string {
	var missing []string
	for _, ref := range s.RequiredFields() {
		if !doc.Has(ref) {
			missing = append(missing, ref.String())
		}
	}
	return missing
}
