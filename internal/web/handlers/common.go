package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"

	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/promotion"
	"github.com/kozaktomas/meter-lab/internal/recognition"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var (
		insufficient     *promotion.InsufficientSamplesError
		notEligible      *promotion.NotEligibleError
		folderTransition *promotion.TransitionError
		runTransition    *recognition.TransitionError
		invalid          validator.ValidationErrors
		bad              *bindError
	)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &bad), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &insufficient),
		errors.As(err, &notEligible),
		errors.As(err, &folderTransition),
		errors.Is(err, promotion.ErrNotUniversal),
		errors.Is(err, batch.ErrNoPhotos):
		return http.StatusUnprocessableEntity
	case errors.As(err, &runTransition),
		errors.Is(err, batch.ErrBatchClosed),
		errors.Is(err, batch.ErrBatchRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure writes err with the status statusFor picks. Server errors
// are logged with the request's logger.
func respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("path", sanitizeForLog(r.URL.Path)).Msg("request failed")
	}

	var notEligible *promotion.NotEligibleError
	if errors.As(err, &notEligible) {
		respondJSON(w, status, map[string]any{
			"error":       err.Error(),
			"eligibility": notEligible.Eligibility,
		})
		return
	}
	respondError(w, status, err.Error())
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
