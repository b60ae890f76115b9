// Package respond writes JSON responses. It is the only place an error
// becomes a status code and a body, so handlers and middleware answer with
// the same shape:
//
//	{"error": "conflict", "message": "email already registered", "field": "email"}
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/infinite-studio/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable type, e.g. "conflict"
	Message string `json:"message"`         // safe to show to the user
	Field   string `json:"field,omitempty"` // request field at fault, if any
}

const internalMessage = "An internal error occurred"

// JSON writes data with status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// Status maps a sentinel in err's chain to a status and error type.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusBadRequest, "conflict"
	case errors.Is(err, apperror.ErrInvalidToken):
		return http.StatusBadRequest, "invalid_token"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, apperror.ErrDependency):
		return http.StatusBadGateway, "dependency_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// Error maps err to its HTTP status and sends it. Errors without an
// *apperror.AppError in their chain are logged and reported as a generic
// 500; their text may contain SQL or driver detail.
func Error(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		slog.Error("unhandled error", slog.String("error", err.Error()))
		JSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: internalMessage})
		return
	}

	status, errorType := Status(err)
	if status == http.StatusInternalServerError {
		slog.Error("unclassified app error", slog.String("error", err.Error()))
	}
	JSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}
