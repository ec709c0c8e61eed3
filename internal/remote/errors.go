package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a structured failure returned by the marketplace API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Code != "" {
		return fmt.Sprintf("remote: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote: %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether replaying the same request could succeed later.
// Server errors, 408 and 429 are transient; every other 4xx is a rejection.
func (e *APIError) Retryable() bool {
	if e == nil {
		return false
	}
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// NetworkError wraps transport failures: DNS, refused connections, timeouts.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable is always true for transport failures.
func (e *NetworkError) Retryable() bool {
	return true
}

// Failure reasons used for logging and metric labels.
const (
	ReasonNetwork  = "network"
	ReasonRejected = "rejected"
	ReasonServer   = "server"
	ReasonCanceled = "canceled"
)

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

// IsNetworkError reports whether err came from the transport rather than the API.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// Reason classifies err into one of the Reason* labels.
func Reason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case IsNetworkError(err):
		return ReasonNetwork
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Retryable() {
			return ReasonServer
		}
		return ReasonRejected
	}
	return ReasonNetwork
}
