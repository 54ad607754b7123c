// circuitbreaker.go - Circuit breaker around the post-store hooks.
//
// After maxFailures consecutive failures the hook is skipped until the
// cool-down passes, then a single trial call decides whether it closes again.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed: calls flow normally
	StateClosed CircuitState = iota
	// StateOpen: calls fail fast
	StateOpen
	// StateHalfOpen: one trial call is allowed through
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker counts consecutive failures of one dependency.
type CircuitBreaker struct {
	mu sync.Mutex

	name        string
	maxFailures uint32
	timeout     time.Duration
	now         func() time.Time

	state           CircuitState
	failures        uint32
	lastFailureTime time.Time
	trialRunning    bool

	rejected uint64
}

func NewCircuitBreaker(name string, maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
		state:       StateClosed,
	}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		Info("circuit_breaker_half_open", map[string]any{"name": cb.name})
		fallthrough
	case StateHalfOpen:
		if cb.trialRunning {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.trialRunning = true
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasTrial := cb.state == StateHalfOpen
	cb.trialRunning = false

	if err == nil {
		if wasTrial {
			Info("circuit_breaker_closed", map[string]any{"name": cb.name})
		}
		cb.state = StateClosed
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailureTime = cb.now()
	if wasTrial || cb.failures >= cb.maxFailures {
		if cb.state != StateOpen {
			Warn("circuit_breaker_opened", map[string]any{
				"name":         cb.name,
				"failures":     cb.failures,
				"max_failures": cb.maxFailures,
				"timeout":      cb.timeout.String(),
			})
		}
		cb.state = StateOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Rejected is the number of calls refused while open.
func (cb *CircuitBreaker) Rejected() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejected
}

// breakerHook guards a StoredFileHook with a CircuitBreaker.
type breakerHook struct {
	hook    StoredFileHook
	breaker *CircuitBreaker
}

// WithCircuitBreaker wraps h so that it is skipped after maxFailures
// consecutive errors, for cooldown.
func WithCircuitBreaker(h StoredFileHook, maxFailures uint32, cooldown time.Duration) StoredFileHook {
	return &breakerHook{hook: h, breaker: NewCircuitBreaker(h.Name(), maxFailures, cooldown)}
}

func (b *breakerHook) Name() string { return b.hook.Name() }

func (b *breakerHook) FileStored(ctx context.Context, f FileDescriptor) error {
	err := b.breaker.Execute(func() error { return b.hook.FileStored(ctx, f) })
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%s skipped: %w", b.hook.Name(), err)
	}
	return err
}

// Close forwards to the wrapped hook when it holds resources.
func (b *breakerHook) Close() error {
	if c, ok := b.hook.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
