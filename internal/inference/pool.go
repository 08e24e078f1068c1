package inference

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"mediaq/internal/backoff"
	"mediaq/internal/metrics"
)

// EndpointConfig describes one remote inference endpoint.
type EndpointConfig struct {
	ID          string
	URL         string
	MinInterval time.Duration
}

// Config holds the pool's failover and circuit settings.
type Config struct {
	Endpoints        []EndpointConfig
	FailureThreshold int           // consecutive failures before the circuit opens
	BackoffBase      time.Duration // first open-circuit cooldown
	BackoffMax       time.Duration // cooldown cap
	MaxHops          int           // endpoint attempts per logical request
}

// Pool load-balances across interchangeable inference endpoints with
// per-endpoint rate gating and circuit breaking. A degraded endpoint is
// taken out of rotation for a growing cooldown instead of starving the
// whole pool, and recovers through a single half-open trial request.
type Pool struct {
	mu        sync.Mutex
	endpoints []*endpoint
	cursor    int

	caller           Caller
	failureThreshold int
	backoffBase      time.Duration
	backoffMax       time.Duration
	maxHops          int
}

// NewPool creates a pool over cfg.Endpoints using caller for transport.
func NewPool(cfg Config, caller Caller) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one inference endpoint is required")
	}

	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	if cfg.MaxHops < 1 {
		cfg.MaxHops = len(cfg.Endpoints)
	}

	p := &Pool{
		caller:           caller,
		failureThreshold: cfg.FailureThreshold,
		backoffBase:      cfg.BackoffBase,
		backoffMax:       cfg.BackoffMax,
		maxHops:          cfg.MaxHops,
	}

	for _, ec := range cfg.Endpoints {
		if ec.ID == "" || ec.URL == "" {
			return nil, fmt.Errorf("endpoint id and url are required")
		}
		p.endpoints = append(p.endpoints, &endpoint{
			id:          ec.ID,
			url:         ec.URL,
			minInterval: ec.MinInterval,
			state:       StateClosed,
		})
	}

	return p, nil
}

// Invoke runs one logical inference request, hopping across endpoints on
// retryable failures up to the hop bound. It returns
// ErrAllEndpointsUnavailable when every circuit is open, and an
// InferenceError wrapping the last cause otherwise.
func (p *Pool) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	var lastErr error

	for hop := 0; hop < p.maxHops; hop++ {
		ep, wait, err := p.reserve(time.Now())
		if err != nil {
			return nil, err
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		start := time.Now()
		out, err := p.caller.Call(ctx, ep.id, ep.url, payload)
		metrics.InferenceDurationSeconds.WithLabelValues(ep.id).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.InferenceRequestsTotal.WithLabelValues(ep.id, "success").Inc()
			p.recordSuccess(ep)
			return out, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !retryable(err) {
			metrics.InferenceRequestsTotal.WithLabelValues(ep.id, "rejected").Inc()
			return nil, &InferenceError{Cause: err}
		}

		metrics.InferenceRequestsTotal.WithLabelValues(ep.id, "failure").Inc()
		p.recordFailure(ep)
		log.Printf("endpoint=%s: inference call failed (hop %d/%d): %v", ep.id, hop+1, p.maxHops, err)
		lastErr = err
	}

	return nil, &InferenceError{Cause: lastErr}
}

// reserve picks the next endpoint and the time to wait before sending.
// Healthier endpoints (fewer consecutive failures) win ties ahead of
// round-robin order; when every eligible endpoint is still inside its
// minimum inter-request gap, the one that frees up soonest is reserved.
func (p *Pool) reserve(now time.Time) (*endpoint, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var chosen *endpoint
	chosenPos := -1

	// First pass: endpoints ready to send immediately.
	for i := 0; i < len(p.endpoints); i++ {
		pos := (p.cursor + i) % len(p.endpoints)
		ep := p.endpoints[pos]
		if !ep.eligible(now) {
			continue
		}
		if ep.nextSendAt.After(now) {
			continue
		}
		if chosen == nil || ep.consecutiveFailures < chosen.consecutiveFailures {
			chosen = ep
			chosenPos = pos
		}
	}

	// Second pass: nothing is ready, block on the soonest eligible one.
	if chosen == nil {
		for i := 0; i < len(p.endpoints); i++ {
			pos := (p.cursor + i) % len(p.endpoints)
			ep := p.endpoints[pos]
			if !ep.eligible(now) {
				continue
			}
			if chosen == nil || ep.nextSendAt.Before(chosen.nextSendAt) {
				chosen = ep
				chosenPos = pos
			}
		}
	}

	if chosen == nil {
		return nil, 0, ErrAllEndpointsUnavailable
	}

	sendAt := chosen.nextSendAt
	if sendAt.Before(now) {
		sendAt = now
	}
	// Reserve the slot now so concurrent invokes space out their sends.
	chosen.nextSendAt = sendAt.Add(chosen.minInterval)
	p.cursor = (chosenPos + 1) % len(p.endpoints)

	return chosen, sendAt.Sub(now), nil
}

func (p *Pool) recordSuccess(ep *endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep.consecutiveFailures = 0
	ep.state = StateClosed
	metrics.EndpointCircuitOpen.WithLabelValues(ep.id).Set(0)
}

func (p *Pool) recordFailure(ep *endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	ep.consecutiveFailures++
	ep.lastFailureAt = now

	// A failed half-open trial reopens immediately with a fresh window.
	if ep.state == StateHalfOpen || ep.consecutiveFailures >= p.failureThreshold {
		cooldown := backoff.Exponential(p.backoffBase, p.backoffMax, ep.consecutiveFailures)
		ep.state = StateOpen
		ep.nextAllowedAt = now.Add(cooldown)
		metrics.EndpointCircuitOpen.WithLabelValues(ep.id).Set(1)
		log.Printf("endpoint=%s: circuit opened after %d consecutive failures, cooldown %s",
			ep.id, ep.consecutiveFailures, cooldown)
	}
}

// Snapshot returns the current per-endpoint circuit state for the status
// surface.
func (p *Pool) Snapshot() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, EndpointStatus{
			ID:                  ep.id,
			State:               ep.state,
			ConsecutiveFailures: ep.consecutiveFailures,
		})
	}
	return out
}
