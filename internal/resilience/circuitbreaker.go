// Package resilience guards calls to external capabilities.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a provider once it keeps failing. [FallbackGroup] puts a
// breaker in front of each of several interchangeable providers and tries
// them in order. [Retry] re-runs a single call with capped exponential
// backoff.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/callbridge/pkg/provider"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. All probes
	// succeeding closes the breaker; any probe failing re-opens it.
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
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive counted failures that opens a
	// closed breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls admitted while half-open.
	// Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. The
	// default counts temporary provider errors and ignores caller
	// cancellation and permanent client errors such as a bad request, which
	// say nothing about provider health.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenOK      int
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
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
		state:         StateClosed,
	}
}

func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return provider.IsTemporary(err)
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits the call and records the outcome.
// A rejected call returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, transition, err := cb.admit()
	cb.notify(transition)
	if err != nil {
		return err
	}

	err = fn()

	cb.notify(cb.record(probe, err))
	return err
}

type stateChange struct{ from, to State }

func (cb *CircuitBreaker) admit() (probe bool, tr *stateChange, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return false, nil, ErrCircuitOpen
		}
		tr = cb.setState(StateHalfOpen)
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			return false, nil, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.halfOpenCalls++
		return true, tr, nil
	}
	return false, tr, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) *stateChange {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.isFailure(err) {
		cb.lastFailure = cb.now()
		if probe {
			slog.Warn("circuit breaker re-opened from half-open", "name", cb.name, "err", err)
			return cb.setState(StateOpen)
		}
		cb.consecutiveFail++
		if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
			slog.Warn("circuit breaker opened",
				"name", cb.name,
				"consecutive_failures", cb.consecutiveFail,
				"err", err)
			return cb.setState(StateOpen)
		}
		return nil
	}

	if probe && cb.state == StateHalfOpen {
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.halfOpenMax {
			cb.consecutiveFail = 0
			slog.Info("circuit breaker closed after successful probes", "name", cb.name)
			return cb.setState(StateClosed)
		}
		return nil
	}
	if err == nil {
		cb.consecutiveFail = 0
	}
	return nil
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) *stateChange {
	from := cb.state
	cb.state = to
	if from == to {
		return nil
	}
	return &stateChange{from: from, to: to}
}

func (cb *CircuitBreaker) notify(tr *stateChange) {
	if tr != nil && cb.onStateChange != nil {
		cb.onStateChange(cb.name, tr.from, tr.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.setState(StateClosed)
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	cb.mu.Unlock()

	cb.notify(tr)
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
