package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the breaker rejects requests
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast after a dependency fails repeatedly. After the
// open timeout one trial call at a time is let through; successThreshold
// consecutive successes close it again.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	openedAt         time.Time
	trialInFlight    bool
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	now              func() time.Time
	onStateChange    func(from, to State)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if successThreshold < 1 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// WithClock replaces the time source, for tests
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	return cb
}

// SetStateChangeCallback registers a callback for state transitions. It runs
// outside the breaker lock.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Call runs fn if the breaker allows it and records the outcome
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.AllowRequest() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// AllowRequest reports whether a request may proceed
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	var transition func()
	allowed := false
	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.timeout {
			transition = cb.setStateLocked(StateHalfOpen)
			cb.trialInFlight = true
			allowed = true
		}
	case StateHalfOpen:
		if !cb.trialInFlight {
			cb.trialInFlight = true
			allowed = true
		}
	}
	cb.mu.Unlock()
	if transition != nil {
		transition()
	}
	return allowed
}

// RecordSuccess closes a half-open breaker once enough trials succeed
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var transition func()
	switch cb.state {
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			transition = cb.setStateLocked(StateClosed)
		}
	case StateClosed:
		cb.failureCount = 0
	}
	cb.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// RecordFailure trips the breaker at the threshold, or reopens a half-open one
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var transition func()
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			transition = cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.trialInFlight = false
		transition = cb.setStateLocked(StateOpen)
	}
	cb.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// setStateLocked must be called with mu held. It returns the callback to
// fire after unlocking, or nil.
func (cb *CircuitBreaker) setStateLocked(next State) func() {
	prev := cb.state
	if prev == next {
		return nil
	}
	cb.state = next
	cb.failureCount = 0
	cb.successCount = 0
	if next == StateOpen {
		cb.openedAt = cb.now()
	}
	fn := cb.onStateChange
	if fn == nil {
		return nil
	}
	return func() { fn(prev, next) }
}
