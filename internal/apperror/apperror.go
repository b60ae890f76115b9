// Package apperror defines the domain error taxonomy shared by the service,
// repository, and handler layers.
//
// Every AppError wraps exactly one sentinel so callers can branch with
// errors.Is, while the Message stays safe to show to an end user. The HTTP
// handler package is the only place these are translated into status codes.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrDependency   = errors.New("dependency failure")
	ErrRateLimited  = errors.New("rate limited")
)

type AppError struct {
	Err     error  // sentinel this error belongs to
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation on field. The message is shown to
// the client as-is, so it must not leak anything beyond the colliding field.
func Conflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is used for missing sessions and failed logins alike; the
// message must stay generic.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// InvalidToken reports a verification or reset token that could not be used.
func InvalidToken(message string) *AppError {
	return &AppError{
		Err:     ErrInvalidToken,
		Message: message,
	}
}

// DependencyFailed wraps a failure of an external collaborator (the email
// provider, the broker). cause is kept for logging and errors.Is; it is never
// part of Message.
func DependencyFailed(message string, cause error) *AppError {
	err := ErrDependency
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrDependency, cause)
	}
	return &AppError{
		Err:     err,
		Message: message,
	}
}

func RateLimited(message string) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: message,
	}
}
