package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the polling budget is exhausted before the
	// prediction reaches a terminal state.
	ErrTimeout = errors.New("inference: prediction timed out")
	// ErrInvalidOutput is returned when a terminal response lacks a usable
	// asset URL.
	ErrInvalidOutput = errors.New("inference: no usable output url")
	// ErrInvalidInput is returned before any network call when an input asset
	// URL is not an absolute http(s) URL.
	ErrInvalidInput = errors.New("inference: invalid input")
	// ErrMissingAPIKey is returned when the client has no credentials.
	ErrMissingAPIKey = errors.New("inference: api key is missing")
)

// ProviderError carries the upstream status and message for non-success
// provider responses.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("inference: provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("inference: provider error: %s", e.Message)
}
