package inference

import "time"

// CircuitState is the per-endpoint breaker state.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// endpoint is the pool's in-memory view of one remote inference endpoint.
// All fields are guarded by the pool mutex.
type endpoint struct {
	id  string
	url string

	// Minimum gap between consecutive requests to this endpoint.
	minInterval time.Duration
	// Earliest time the next request may be sent, advanced on selection.
	nextSendAt time.Time

	state               CircuitState
	consecutiveFailures int
	lastFailureAt       time.Time
	// When an open circuit may admit its half-open trial request.
	nextAllowedAt time.Time
}

// eligible reports whether the endpoint may receive traffic at now,
// transitioning open -> half_open once the cooldown has elapsed.
func (e *endpoint) eligible(now time.Time) bool {
	if e.state == StateOpen {
		if now.Before(e.nextAllowedAt) {
			return false
		}
		e.state = StateHalfOpen
	}
	return true
}

// EndpointStatus is the externally visible endpoint state, reported on the
// status surface.
type EndpointStatus struct {
	ID                  string       `json:"id"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}
