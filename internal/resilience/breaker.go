// Package resilience keeps the concierge connecting when a provider is
// unhealthy.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops hammering a provider which keeps refusing connections. [Failover]
// orders several providers of one type, each behind its own breaker, and
// [S2S] applies it to speech-to-speech session establishment.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the lower-case name of the state.
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

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 1.
	HalfOpenMax int

	// Now overrides time.Now, for tests.
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern around a single dependency.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          cfg.Now,
	}
}

// Do runs fn unless the breaker is open. The error fn returns is passed
// through unchanged.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.successes = 0, 0
		slog.Info("resilience: breaker half-open", "name", b.name)
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.halfOpenMax {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		if probe || b.failures >= b.maxFailures {
			if b.state != StateOpen {
				slog.Warn("resilience: breaker opened", "name", b.name, "failures", b.failures, "err", err)
			}
			b.state = StateOpen
			b.openedAt = b.now()
		}
		return
	}

	b.failures = 0
	if !probe {
		return
	}
	b.successes++
	if b.successes >= b.halfOpenMax {
		b.state = StateClosed
		b.probes, b.successes = 0, 0
		slog.Info("resilience: breaker closed", "name", b.name)
	} else {
		// Free the slot for the next probe.
		b.probes--
	}
}

// State returns the breaker's state. An open breaker whose timeout has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.probes, b.successes = 0, 0, 0
}
