package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/coachplan/plan-engine/internal/contextdoc"
	"github.com/coachplan/plan-engine/internal/db"
	"github.com/coachplan/plan-engine/internal/schemas"
)

// EnqueueJobRequest is the payload for POST /jobs. A follow-up run references the
// completed job whose final document it evolves.
type EnqueueJobRequest struct {
	PipelineType  string                     `json:"pipeline_type" validate:"required"`
	ClientID      string                     `json:"client_id" validate:"required,min=1"`
	RawInputs     map[string]json.RawMessage `json:"raw_inputs" validate:"required"`
	PreviousRunID *uuid.UUID                 `json:"previous_run_id,omitempty"`
}

// ListJobsResponse represents the response for listing jobs
type ListJobsResponse struct {
	Jobs  []db.Job `json:"jobs"`
	Count int      `json:"count"`
	Limit int      `json:"limit"`
}

// handleEnqueueJob accepts a new job and stores it as pending. The job is picked
// up by the worker pool, never executed inline.
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.validator.Struct(req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, extractValidationErrors(err))
		return
	}

	pipeline, err := s.registry.Pipeline(req.PipelineType)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	rawJSON, err := json.Marshal(req.RawInputs)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid raw_inputs")
		return
	}
	if err := s.intakeSchema.Validate(rawJSON); err != nil {
		var ve *schemas.ValidationError
		if errors.As(err, &ve) {
			s.jsonResponse(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "intake payload failed schema validation",
				"fields": ve.Errors,
			})
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Schema validation error: "+err.Error())
		return
	}

	seed := contextdoc.Seed{RawInputs: req.RawInputs}
	if req.PreviousRunID != nil {
		prev, err := s.previousDocument(r, *req.PreviousRunID)
		if err != nil {
			s.errorResponse(w, HTTPStatus(err), err.Error())
			return
		}
		seed.PreviousDocument = prev
	}

	seedJSON, err := json.Marshal(&seed)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to encode seed: "+err.Error())
		return
	}

	job, err := s.db.EnqueueJob(r.Context(), &db.EnqueueJobInput{
		Type:        req.PipelineType,
		ClientID:    req.ClientID,
		ContextSeed: seedJSON,
		TotalSteps:  pipeline.TotalSteps(),
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusCreated, job)
}

// previousDocument loads the final context document of a completed prior run.
func (s *Server) previousDocument(r *http.Request, previousRunID uuid.UUID) (*contextdoc.Document, error) {
	source, err := s.db.GetJob(r.Context(), previousRunID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: %s", db.ErrJobNotFound, previousRunID)
	}
	if source.Status != db.JobStatusCompleted || len(source.ContextDocument) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPreviousRunNotReady, previousRunID)
	}

	var prev contextdoc.Document
	if err := json.Unmarshal(source.ContextDocument, &prev); err != nil {
		return nil, fmt.Errorf("failed to parse previous run document: %w", err)
	}
	return &prev, nil
}

// handleGetJob retrieves a job by its ID
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := s.db.GetJob(r.Context(), jobID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if job == nil {
		s.errorResponse(w, http.StatusNotFound, "Job not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, job)
}

// handleListJobs lists jobs with optional filters
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r, "limit", 50, 100)

	filters := db.JobFilters{
		Status:   r.URL.Query().Get("status"),
		ClientID: r.URL.Query().Get("client_id"),
		Type:     r.URL.Query().Get("type"),
		Limit:    limit,
	}

	if filters.Status != "" && !validJobStatus(filters.Status) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	jobs, err := s.db.ListJobs(r.Context(), filters)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, ListJobsResponse{
		Jobs:  jobs,
		Count: len(jobs),
		Limit: limit,
	})
}

// handleRetryJob clones a failed job into a fresh pending job
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := s.db.RetryJob(r.Context(), jobID)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusCreated, job)
}

func validJobStatus(status string) bool {
	switch status {
	case db.JobStatusPending, db.JobStatusRunning, db.JobStatusCompleted, db.JobStatusFailed:
		return true
	}
	return false
}

// parseQueryInt parses an integer query parameter with default and max values
func parseQueryInt(r *http.Request, key string, defaultValue, maxValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return defaultValue
	}
	if maxValue > 0 && value > maxValue {
		return maxValue
	}
	return value
}
