package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state
	// and rejects requests to prevent cascading failures.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrContextExceeded is returned when input plus output tokens exceed
	// the model's context window.
	ErrContextExceeded = errors.New("context limit exceeded")

	// ErrEmptyResponse is returned when a provider answers with no choices.
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrNoAPIKey is returned when a client is constructed without a key.
	ErrNoAPIKey = errors.New("api key required")
)

// ProviderError is an HTTP-level failure from a text, image or audio
// provider. It satisfies retry.StatusCoder.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatusCode returns the response status.
func (e *ProviderError) HTTPStatusCode() int { return e.StatusCode }
