package aiguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// ErrCircuitOpen is returned while the storage circuit is open. It is a
// storage failure, so the guard denies access.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", ErrStoreUnavailable)

// CircuitBreaker guards calls to the store.
type CircuitBreaker interface {
	// Execute runs fn unless the circuit is open.
	Execute(ctx context.Context, fn func() error) error
	Success()
	Failure(err error)
	State() CircuitBreakerState
}

// DefaultCircuitBreaker opens after failureThreshold consecutive storage
// failures. Once resetTimeout has passed since the last failure a single
// probe call is admitted: its success closes the circuit, its failure opens
// it again. Calls arriving while the probe runs are rejected.
type DefaultCircuitBreaker struct {
	mu sync.Mutex

	state            CircuitBreakerState
	failureThreshold int
	resetTimeout     time.Duration
	failures         int
	openedAt         time.Time
	probing          bool

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
// onStateChange is called under the breaker lock and must not call back into it.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState reports an open circuit whose timeout elapsed as half-open
func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn. Business outcomes such as "not found" or "duplicate
// appeal" count as successes: only infrastructure errors trip the breaker.
func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && !isBusinessError(err) {
		cb.Failure(err)
		return err
	}

	cb.Success()
	return err
}

// admit reports whether a call may run and reserves the probe slot when
// the circuit is half-open
func (cb *DefaultCircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		cb.changeState(StateHalfOpen)
	}
	return true
}

func isBusinessError(err error) bool {
	return isDomainError(err) && !errors.Is(err, ErrStoreUnavailable)
}

func (cb *DefaultCircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	cb.failures = 0
	cb.changeState(StateClosed)
}

func (cb *DefaultCircuitBreaker) Failure(_ error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch {
	case cb.probing || cb.state == StateHalfOpen:
		cb.probing = false
		cb.open()
	case cb.state == StateClosed && cb.failures >= cb.failureThreshold:
		cb.open()
	}
}

func (cb *DefaultCircuitBreaker) open() {
	cb.openedAt = time.Now()
	cb.changeState(StateOpen)
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	if cb.onStateChange != nil {
		cb.onStateChange(newState)
	}
}
