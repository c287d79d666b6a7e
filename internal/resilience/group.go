package resilience

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or had an
// open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group is an ordered list of interchangeable backends. Members are added
// before first use; Group is not safe for concurrent Add.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns an empty group. Every member gets a breaker built from cfg
// with the member's name.
func NewGroup[T any](cfg BreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends a backend. Backends are tried in the order they were added.
func (g *Group[T]) Add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewBreaker(cfg)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Names returns the member names in order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.name
	}
	return names
}

// Close closes every member implementing [io.Closer].
func (g *Group[T]) Close() error {
	var errs []error
	for _, m := range g.members {
		if c, ok := any(m.value).(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Call runs fn against each member in order until one succeeds. Errors the
// breaker ignores are returned right away since the next member would see the
// same input. When every member fails the result wraps [ErrAllFailed] and the
// last error.
func Call[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if m.breaker.ignored(err) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider with open circuit", "provider", m.name)
			continue
		}
		if i < len(g.members)-1 {
			slog.Warn("provider failed, trying next", "provider", m.name, "err", err)
		}
	}
	if lastErr == nil {
		return zero, ErrAllFailed
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
