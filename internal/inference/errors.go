package inference

import (
	"errors"
	"fmt"
)

// ErrAllEndpointsUnavailable means every endpoint's circuit is currently
// open; nothing can even be attempted.
var ErrAllEndpointsUnavailable = errors.New("all inference endpoints unavailable")

// InferenceError wraps the last underlying failure after the pool has
// exhausted its endpoint hops (or hit a non-retryable response).
type InferenceError struct {
	Cause error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Cause)
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

// RetryableCause reports whether the wrapped failure was transient (hops
// exhausted on rate limits, 5xx or transport errors) rather than the
// request itself being rejected.
func (e *InferenceError) RetryableCause() bool {
	return retryable(e.Cause)
}

// EndpointError is a non-2xx response from a single endpoint call.
type EndpointError struct {
	EndpointID string
	StatusCode int
	Body       string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("endpoint %s returned status %d: %s", e.EndpointID, e.StatusCode, e.Body)
}

// retryable reports whether a call failure should count toward the
// endpoint's circuit and be retried on another endpoint. Rate limiting
// (429), server errors (5xx) and transport failures qualify; other 4xx
// responses indicate a bad request and are surfaced as-is.
func retryable(err error) bool {
	var epErr *EndpointError
	if errors.As(err, &epErr) {
		return epErr.StatusCode == 429 || epErr.StatusCode >= 500
	}
	// Transport-level failure (timeout, refused connection, DNS).
	return true
}
