// Package errors defines the coded errors the agent API reports to clients.
package errors

import (
	"errors"
	"net/http"
)

// AppError pairs a stable client-facing code with an HTTP status. Internal is
// kept for logs and never serialised.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// New builds an AppError. Package-level sentinels are created with it and
// must not be mutated; use WithMessage or WithInternal for variants.
func New(code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

var (
	ErrBadRequest     = New("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrNotFound       = New("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrInternalServer = New("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)

	// ErrOffline: the remote API is unreachable and the read cannot be served locally.
	ErrOffline = New("OFFLINE", "Remote service is unreachable", http.StatusServiceUnavailable)

	// ErrNoCachedData: the live read failed and the local mirror has no copy.
	ErrNoCachedData = New("NO_CACHED_DATA", "No live data and no cached copy available", http.StatusServiceUnavailable)

	// ErrPersistenceUnavailable marks local storage failures. Logged only.
	ErrPersistenceUnavailable = New("PERSISTENCE_UNAVAILABLE", "Local persistence unavailable", http.StatusInternalServerError)
)

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Internal != nil:
		return e.Message + ": " + e.Internal.Error()
	default:
		return e.Message
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is compares codes, so variants derived from a sentinel still match it.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if e == nil || !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy carrying err as its cause.
func (e *AppError) WithInternal(err error) *AppError {
	return e.derive(func(cpy *AppError) { cpy.Internal = err })
}

// WithMessage returns a copy with a more specific client message.
func (e *AppError) WithMessage(message string) *AppError {
	return e.derive(func(cpy *AppError) { cpy.Message = message })
}

func (e *AppError) derive(modify func(*AppError)) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	modify(&cpy)
	return &cpy
}

// FromError finds the AppError in err's chain. Anything else becomes an
// internal server error that hides the original message from clients.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest is ErrBadRequest with message.
func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}
