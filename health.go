package reasongate

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes the health of a provider.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker tracks per-provider health using a circuit breaker pattern.
// An unhealthy provider fails fast until the cool-down elapses. In the
// half-open state Allow admits a single probe call; others fail fast until
// the probe ends. A probe that never reports back is replaced after one
// more cool-down.
type HealthTracker struct {
	mu        sync.Mutex
	providers map[string]*providerHealth
	now       func() time.Time
}

type providerHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time
	probing     bool
	probeAt     time.Time
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		providers: make(map[string]*providerHealth),
		now:       time.Now,
	}
}

// GetHealth returns the current health state for a provider.
func (h *HealthTracker) GetHealth(provider string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.providers[provider]
	if !ok {
		return HealthHealthy
	}

	if ph.state == HealthUnhealthy && h.now().Sub(ph.unhealthyAt) >= healthUnhealthyPeriod {
		ph.state = HealthHalfOpen
	}
	return ph.state
}

// Allow reports whether a call to provider may proceed. A half-open
// provider admits one probe at a time; the caller must end it with
// RecordSuccess, RecordFailure or EndProbe.
func (h *HealthTracker) Allow(provider string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.providers[provider]
	if !ok {
		return true
	}

	now := h.now()
	switch ph.state {
	case HealthHealthy:
		return true
	case HealthUnhealthy:
		if now.Sub(ph.unhealthyAt) < healthUnhealthyPeriod {
			return false
		}
		ph.state = HealthHalfOpen
	}

	if ph.probing && now.Sub(ph.probeAt) < healthUnhealthyPeriod {
		return false
	}
	ph.probing = true
	ph.probeAt = now
	return true
}

// EndProbe clears an in-flight probe whose outcome says nothing about the
// provider, such as a caller cancellation.
func (h *HealthTracker) EndProbe(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ph, ok := h.providers[provider]; ok {
		ph.probing = false
	}
}

// RecordSuccess records a successful call for a provider.
func (h *HealthTracker) RecordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	ph.state = HealthHealthy
	ph.probing = false
	ph.failures = ph.failures[:0]
}

// RecordFailure records a failed call for a provider.
func (h *HealthTracker) RecordFailure(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	now := h.now()
	ph.probing = false

	// A failed half-open probe trips straight back to unhealthy.
	if ph.state == HealthHalfOpen {
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
		return
	}
	if ph.state == HealthUnhealthy {
		return
	}

	cutoff := now.Add(-healthFailureWindow)
	valid := ph.failures[:0]
	for _, t := range ph.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	ph.failures = append(valid, now)

	if len(ph.failures) >= healthFailureThreshold {
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(provider string) *providerHealth {
	ph, ok := h.providers[provider]
	if !ok {
		ph = &providerHealth{state: HealthHealthy}
		h.providers[provider] = ph
	}
	return ph
}
