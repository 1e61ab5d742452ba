// Package server provides the HTTP REST API for the plan engine.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/coachplan/plan-engine/internal/db"
)

// ErrPreviousRunNotReady indicates a follow-up run referenced a job that has not
// completed or carries no final document.
var ErrPreviousRunNotReady = errors.New("previous run has no final document")

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, db.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrJobNotRetryable), errors.Is(err, ErrPreviousRunNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// extractValidationErrors extracts validation error messages from validator errors.
func extractValidationErrors(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrors) > 0 {
			// Return first validation error for simplicity
			ve := validationErrors[0]
			return fmt.Sprintf("validation error: %s - %s", ve.Field(), ve.Tag())
		}
	}
	return "validation error: invalid request"
}
