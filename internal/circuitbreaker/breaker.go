// Package circuitbreaker stops calling the PnL provider while it is throttling us.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Provider asked us to back off
	StateHalfOpen              // Back-off elapsed, waiting for a successful call
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks the provider's rate-limit hints. A 429 opens the circuit
// for the retry-after period; calls made while open should fail fast.
type CircuitBreaker struct {
	mu sync.RWMutex

	// Current state of the circuit breaker (Closed, Open, HalfOpen)
	state State

	// When the open state ends
	openUntil time.Time

	// Number of times the circuit has tripped
	trips int64

	now func() time.Time

	// Event callback for monitoring/alerting
	onTripCallback func(reason string, until time.Time)
}

// Status is a point-in-time view of the breaker for status endpoints.
type Status struct {
	State     string    `json:"state"`
	OpenUntil time.Time `json:"openUntil,omitempty"`
	Trips     int64     `json:"trips"`
}

// New creates a closed CircuitBreaker.
func New() *CircuitBreaker {
	return &CircuitBreaker{
		state: StateClosed,
		now:   time.Now,
	}
}

// WithClock replaces the time source and returns the circuit breaker
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, until time.Time)) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTripCallback = callback
	return cb
}

// Allow reports whether a provider call may proceed. When it may not, the
// returned duration is how long the caller should wait.
func (cb *CircuitBreaker) Allow() (time.Duration, bool) {
	cb.mu.RLock()
	state := cb.state
	openUntil := cb.openUntil
	cb.mu.RUnlock()

	if state != StateOpen {
		return 0, true
	}

	if remaining := openUntil.Sub(cb.now()); remaining > 0 {
		return remaining, false
	}

	cb.transitionToHalfOpen()
	return 0, true
}

// Trip opens the circuit for retryAfter. A non-positive duration is ignored.
func (cb *CircuitBreaker) Trip(retryAfter time.Duration, reason string) {
	if retryAfter <= 0 {
		return
	}

	cb.mu.Lock()
	until := cb.now().Add(retryAfter)
	if cb.state == StateOpen && until.Before(cb.openUntil) {
		until = cb.openUntil
	}
	cb.state = StateOpen
	cb.openUntil = until
	cb.trips++
	callback := cb.onTripCallback
	cb.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"reason": reason,
		"until":  until.Format(time.RFC3339),
	}).Warn("Circuit breaker tripped")

	if callback != nil {
		go callback(reason, until)
	}
}

// Success records a successful provider call, closing a half-open circuit.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.openUntil = time.Time{}
		logrus.Info("Circuit breaker closed: provider has recovered")
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Snapshot returns the breaker status.
func (cb *CircuitBreaker) Snapshot() Status {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Status{
		State:     cb.state.String(),
		OpenUntil: cb.openUntil,
		Trips:     cb.trips,
	}
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.openUntil = time.Time{}
	logrus.Info("Circuit breaker manually reset to closed state")
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.now().Before(cb.openUntil) {
		cb.state = StateHalfOpen
		logrus.Info("Circuit breaker half-open: testing provider recovery")
	}
}
