// Package response defines the JSON response envelope and the mapping from
// domain errors to transport status codes.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rezkam/smartflow/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []ErrorField `json:"details,omitempty"`
}

// ErrorField describes a field-specific error.
type ErrorField struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// BadRequest sends a 400 Bad Request error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, "INVALID_REQUEST", message, http.StatusBadRequest)
}

// ValidationError sends a 400 validation error with field details.
func ValidationError(w http.ResponseWriter, field, issue string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    "VALIDATION_ERROR",
			Message: "validation failed",
			Details: []ErrorField{
				{Field: field, Issue: issue},
			},
		},
	})
}

// NotFound sends a 404 Not Found error.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

// Conflict sends a 409 Conflict error.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, "CONFLICT", message, http.StatusConflict)
}

// StorageUnavailable sends a 503 Service Unavailable error.
func StorageUnavailable(w http.ResponseWriter) {
	Error(w, "STORAGE_UNAVAILABLE", "storage is temporarily unavailable", http.StatusServiceUnavailable)
}

// InternalError sends a 500 Internal Server Error. The actual error is
// logged server-side; the client gets a generic message.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err)
	}
	Error(w, "INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
}

// Error sends a generic error response.
func Error(w http.ResponseWriter, code, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromDomainError maps domain errors to HTTP responses.
func FromDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	// Validation errors (400)
	case errors.Is(err, domain.ErrTypeRequired):
		ValidationError(w, "type", "required field missing")
	case errors.Is(err, domain.ErrInvalidPriority):
		ValidationError(w, "priority", "must be between 1 and 10")
	case errors.Is(err, domain.ErrInvalidMaxAttempts):
		ValidationError(w, "max_attempts", "must be between 1 and 10")
	case errors.Is(err, domain.ErrWorkerIDRequired):
		ValidationError(w, "worker_id", "required field missing")
	case errors.Is(err, domain.ErrInvalidLeaseSeconds):
		ValidationError(w, "lease_seconds", "must be between 5 and 300")
	case errors.Is(err, domain.ErrInvalidLimit):
		ValidationError(w, "limit", "must not be negative")
	case errors.Is(err, domain.ErrNotEnoughSamples):
		ValidationError(w, "samples", err.Error())

	// Not found (404)
	case errors.Is(err, domain.ErrJobNotFound):
		NotFound(w, "job")

	// Precondition conflicts (409)
	case errors.Is(err, domain.ErrJobNotQueued),
		errors.Is(err, domain.ErrJobNotRunning),
		errors.Is(err, domain.ErrJobNotReady),
		errors.Is(err, domain.ErrJobLeased),
		errors.Is(err, domain.ErrJobNotLeased),
		errors.Is(err, domain.ErrJobExists),
		errors.Is(err, domain.ErrJobConflict),
		errors.Is(err, domain.ErrModelNotTrained),
		errors.Is(err, domain.ErrArchiveNotConfigured):
		Conflict(w, err.Error())

	// Transient store failures (503)
	case errors.Is(err, domain.ErrStorageUnavailable):
		StorageUnavailable(w)

	// Unknown errors (500): log server-side, generic message to the client.
	default:
		InternalError(w, r, err)
	}
}
