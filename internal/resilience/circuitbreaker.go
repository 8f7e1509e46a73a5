// Package resilience protects generator calls against failing LLM backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a backend after consecutive failures. [FallbackGroup] puts
// a breaker in front of each configured backend and tries them in order, and
// [LLMFallback] exposes such a group as a single llm.Provider so the
// generator client never needs to know how many backends exist.
//
// Errors that say nothing about backend health pass through without
// counting as failures. See [Neutral].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/kaigo/pkg/provider/llm"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs, usually the provider name.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker's lock released.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		onChange:     cfg.OnStateChange,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker allows it. A [Neutral] error from fn is
// returned unchanged and does not affect the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	switch {
	case err == nil:
		cb.settle(probe, true)
	case Neutral(err):
		cb.release(probe)
	default:
		cb.settle(probe, false)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes, cb.successes = 0, 0
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
	}
	probe = cb.state == StateHalfOpen
	if probe {
		cb.probes++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return probe, nil
}

// release gives back a probe slot without judging the backend.
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) settle(probe, ok bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case ok && probe:
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.halfOpenMax {
				cb.state = StateClosed
				cb.failures = 0
			}
		}
	case ok:
		cb.failures = 0
	case probe:
		cb.state = StateOpen
		cb.openedAt = cb.now()
	default:
		cb.failures++
		if cb.failures >= cb.maxFailures && cb.state == StateClosed {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from != to && to == StateOpen {
		slog.Warn("resilience: circuit opened", "breaker", cb.name, "consecutive_failures", failures)
	}
	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to {
		return
	}
	if to != StateOpen {
		slog.Info("resilience: circuit state changed", "breaker", cb.name, "from", from, "to", to)
	}
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.probes, cb.successes = 0, 0, 0
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

// Neutral reports whether err says nothing about backend health: the
// caller cancelled, or the backend rejected the response schema (the
// generator retries without one).
func Neutral(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, llm.ErrSchemaUnsupported)
}
