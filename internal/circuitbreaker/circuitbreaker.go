package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker state (Closed, Open, HalfOpen).
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

// ErrOpen is returned when the breaker refuses a call.
var ErrOpen = errors.New("circuit breaker open")

// Breaker protects upstream calls by opening after repeated failures and
// letting probe requests through in half-open state. The refused call is
// not retried; callers surface ErrOpen as a transport failure.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	lastFailure      time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	component        string
	onStateChange    func(from, to State) // optional, for metrics
}

// Config holds breaker parameters. Zero values fall back to defaults
// (5 failures to open, 2 successes to close, 30s open timeout).
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Component        string
	OnStateChange    func(from, to State)
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		component:        cfg.Component,
		onStateChange:    cfg.OnStateChange,
	}
}

// Call runs fn when the breaker allows it. An open breaker returns ErrOpen
// until the timeout elapses, then admits one probe in half-open state.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// admit decides whether a call may proceed, moving open -> half-open once
// the timeout has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	if b.state != StateOpen {
		b.mu.Unlock()
		return nil
	}
	if time.Since(b.lastFailure) < b.timeout {
		b.mu.Unlock()
		return ErrOpen
	}
	b.state = StateHalfOpen
	b.successes = 0
	notify := b.onStateChange
	b.mu.Unlock()

	if notify != nil {
		notify(StateOpen, StateHalfOpen)
	}
	return nil
}

// record applies a call outcome to the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	var from, to State
	notify := b.onStateChange

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
			from, to = b.state, StateOpen
			b.state = StateOpen
			b.failures = 0
		}
	} else {
		b.successes++
		b.failures = 0
		if b.state == StateHalfOpen && b.successes >= b.successThreshold {
			from, to = b.state, StateClosed
			b.state = StateClosed
			b.successes = 0
		}
	}
	b.mu.Unlock()

	if notify != nil && from != to {
		notify(from, to)
	}
}

// State returns the current state (for metrics).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
