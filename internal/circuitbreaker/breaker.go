package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // probing normally
	StateOpen                  // skipped by the dispatcher
	StateHalfOpen              // one trial probe allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

type CircuitBreaker struct {
	mutex            sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	trial            bool
	failureThreshold int
	resetTimeout     time.Duration
}

// NewCircuitBreaker returns a closed breaker. A threshold below 1 disables
// opening entirely.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     resetTimeout,
	}
}

// Allow reports whether the endpoint may be probed now. Once the reset
// timeout has passed exactly one caller gets the half-open trial; everyone
// else is refused until that caller records an outcome or calls Release.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.trial = true
		return true
	case StateHalfOpen:
		if cb.trial {
			return false
		}
		cb.trial = true
		return true
	default:
		return true
	}
}

// Release gives up a half-open trial without an outcome, e.g. when the probe
// was cancelled.
func (cb *CircuitBreaker) Release() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.trial = false
}

// RecordFailure counts one failed probe and returns true when this failure
// moved the breaker into the open state.
func (cb *CircuitBreaker) RecordFailure() (opened bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.trial = false

	if cb.failureThreshold < 1 {
		return false
	}

	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.failureThreshold) {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		return true
	}

	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.trial = false
	cb.state = StateClosed
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Failures returns the number of consecutive failed probes.
func (cb *CircuitBreaker) Failures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}
