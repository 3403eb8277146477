package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [Failover] failed or was
// skipped.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FailoverConfig configures a [Failover].
type FailoverConfig struct {
	// Breaker is the template for each entry's breaker; Name is replaced by
	// the entry name.
	Breaker BreakerConfig

	// Final reports errors that no other entry could fix, such as a
	// cancelled context. A final error stops the walk and is returned as is.
	Final func(error) bool
}

type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover holds a primary and any number of fallbacks of the same type and
// tries them in order.
type Failover[T any] struct {
	entries []entry[T]
	cfg     FailoverConfig
}

// NewFailover returns a [Failover] with primary as its first entry.
func NewFailover[T any](name string, primary T, cfg FailoverConfig) *Failover[T] {
	f := &Failover[T]{cfg: cfg}
	f.Add(name, primary)
	return f
}

// Add appends a fallback. It must not be called concurrently with [Do].
func (f *Failover[T]) Add(name string, value T) {
	bc := f.cfg.Breaker
	bc.Name = name
	f.entries = append(f.entries, entry[T]{name: name, value: value, breaker: NewBreaker(bc)})
}

// Primary returns the first entry's value.
func (f *Failover[T]) Primary() T { return f.entries[0].value }

// Names returns the entry names in order.
func (f *Failover[T]) Names() []string {
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.name
	}
	return out
}

// States returns each entry's breaker state keyed by name.
func (f *Failover[T]) States() map[string]State {
	out := make(map[string]State, len(f.entries))
	for _, e := range f.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Do calls fn against each entry in order until one succeeds and returns that
// entry's name with the result. Entries with an open breaker are skipped.
// When every entry fails the returned error wraps both [ErrAllFailed] and the
// last failure.
func Do[T, R any](f *Failover[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range f.entries {
		e := &f.entries[i]
		var res R
		err := e.breaker.Do(func() error {
			var err error
			res, err = fn(e.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("resilience: using fallback provider", "provider", e.name)
			}
			return res, e.name, nil
		}
		if f.cfg.Final != nil && f.cfg.Final(err) {
			return zero, e.name, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider", "provider", e.name, "reason", "circuit open")
			if lastErr == nil {
				lastErr = err
			}
			continue
		}
		slog.Warn("resilience: provider failed, trying next", "provider", e.name, "err", err)
		lastErr = err
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
