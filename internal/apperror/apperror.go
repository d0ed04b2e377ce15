// Package apperror defines the application's error vocabulary.
//
// Every layer below the HTTP handlers returns these (usually wrapped with
// fmt.Errorf and %w). The handler package maps the sentinels to status codes:
//
//	ErrValidation   -> 400
//	ErrUnauthorized -> 401
//	ErrForbidden    -> 403
//	ErrNotFound     -> 404
//	ErrConflict     -> 409
//	ErrUpstream     -> 500 (message kept generic, cause logged)
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream failure")
)

type AppError struct {
	Err     error  // sentinel the error matches with errors.Is
	Message string // human-readable error message
	Field   string // optional: field causing the error
	Cause   error  // optional: underlying error, for logs only
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
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

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
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

// Unauthorized means the caller has no usable credential.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Upstream wraps a failure of an external service (OAuth provider, model
// endpoint, revalidation receiver). The client sees only op.
func Upstream(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: op + " failed",
		Cause:   cause,
	}
}
