package kberrors

import (
	"sync"
	"time"
)

// circuitState is the internal state of a CircuitBreaker.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker protects the embedding transport from cascading failures:
// once a provider trips past its failure threshold, calls fail fast with a
// Transport error instead of blocking every upsert on a dead endpoint.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       circuitState
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of failures before the circuit opens.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the circuit stays open before probing again.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// NewCircuitBreaker creates a circuit breaker. Default: 5 failures, 30s reset.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		state:        circuitClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the circuit breaker's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// currentState resolves Open -> HalfOpen once resetTimeout has elapsed.
// Caller must hold at least a read lock.
func (cb *CircuitBreaker) currentState() circuitState {
	if cb.state == circuitOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return circuitHalfOpen
	}
	return cb.state
}

// Allow reports whether a call should be attempted right now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState() != circuitOpen
}

// RecordSuccess resets the breaker to closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = circuitClosed
}

// RecordFailure counts a failure, opening the circuit once failures reach maxFailures.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.state = circuitOpen
	}
}

// Execute runs fn through the breaker, returning a Transport error
// immediately if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.currentState()
	if state == circuitOpen {
		cb.mu.Unlock()
		return New(Transport, "circuit "+cb.name+" is open")
	}
	cb.state = state
	cb.mu.Unlock()

	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
