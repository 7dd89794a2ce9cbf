package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

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
	default:
		return "half-open"
	}
}

type CircuitBreaker struct {
	maxFailures     int
	resetTimeout    time.Duration
	ignored         []error
	failureCount    int
	lastFailureTime time.Time
	state           State
	trialRunning    bool
	mu              sync.Mutex
	now             func() time.Time
}

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

type Option func(*CircuitBreaker)

// IgnoreErrors marks errors that are outcomes rather than failures of the
// guarded call, such as a missing row.
func IgnoreErrors(errs ...error) Option {
	return func(cb *CircuitBreaker) {
		cb.ignored = append(cb.ignored, errs...)
	}
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the circuit is open. fn runs without holding the
// breaker's lock, so calls proceed in parallel; in the half-open state a single
// trial is let through. An error returned after ctx is done is the caller
// giving up and is not counted against the guarded dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trial, err := cb.before()
	if err != nil {
		return err
	}

	err = fn()
	if err != nil && ctx.Err() != nil {
		cb.release(trial)
		return err
	}
	cb.after(trial, err)
	return err
}

// before admits a call. trial reports whether the call is the single trial
// let through in the half-open state.
func (cb *CircuitBreaker) before() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Check if we should transition from Open to HalfOpen
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) <= cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.failureCount = 0
		cb.trialRunning = false
	}

	if cb.state == StateHalfOpen {
		if cb.trialRunning {
			return false, ErrCircuitOpen
		}
		cb.trialRunning = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) after(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialRunning = false
	}

	// Only the trial decides a half-open circuit; a call admitted while the
	// circuit was still closed does not.
	if cb.state == StateHalfOpen && !trial {
		return
	}

	if err != nil && !cb.isIgnored(err) {
		cb.failureCount++
		cb.lastFailureTime = cb.now()

		if trial || cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}

	cb.state = StateClosed
	cb.failureCount = 0
}

// release gives up the trial slot without deciding the state.
func (cb *CircuitBreaker) release(trial bool) {
	if !trial {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialRunning = false
}

func (cb *CircuitBreaker) isIgnored(err error) bool {
	for _, target := range cb.ignored {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
