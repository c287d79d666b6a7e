// Package resilience guards provider calls with circuit breakers and ordered
// failover.
//
// A [Breaker] stops calling a backend after repeated failures and probes it
// again after a cooldown. A [Group] holds several interchangeable backends,
// each behind its own breaker, and tries them in order. [LLM], [Transcriber],
// and [Synthesizer] expose a Group through the provider interfaces so the rest
// of the application never sees the failover.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while a breaker is
// open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls with [ErrCircuitOpen] until the cooldown elapses.
	Open

	// HalfOpen lets a limited number of probe calls through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults for zero [BreakerConfig] fields.
const (
	DefaultMaxFailures = 5
	DefaultCooldown    = 30 * time.Second
	DefaultProbes      = 2
)

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls that close the
	// breaker again.
	Probes int

	// Ignore reports errors that say nothing about the backend's health,
	// such as a cancelled caller or invalid input. They are returned as is and
	// never counted. Context cancellation is always ignored.
	Ignore func(error) bool

	now func() time.Time
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inflight  int // probe calls running in half-open
	successes int // probe calls that succeeded in half-open
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = DefaultProbes
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.inflight--
	}
	switch {
	case err == nil:
		b.onSuccess(probe)
	case b.ignored(err):
		// Neither success nor failure.
	default:
		b.onFailure(probe)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.cfg.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.state = HalfOpen
		b.inflight, b.successes = 0, 0
		slog.Info("circuit breaker probing", "name", b.cfg.Name)
	}
	if b.state == HalfOpen {
		if b.inflight+b.successes >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
		b.inflight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) onSuccess(probe bool) {
	if !probe {
		b.failures = 0
		return
	}
	if b.state != HalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.cfg.Probes {
		b.state = Closed
		b.failures = 0
		slog.Info("circuit breaker closed", "name", b.cfg.Name)
	}
}

func (b *Breaker) onFailure(probe bool) {
	if probe || b.state == HalfOpen {
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.cfg.MaxFailures && b.state == Closed {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.cfg.now()
	b.failures = 0
	slog.Warn("circuit breaker opened", "name", b.cfg.Name, "cooldown", b.cfg.Cooldown)
}

func (b *Breaker) ignored(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return b.cfg.Ignore != nil && b.cfg.Ignore(err)
}

// State returns the current state. An open breaker whose cooldown elapsed
// reports [HalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cfg.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures, b.inflight, b.successes = 0, 0, 0
}
