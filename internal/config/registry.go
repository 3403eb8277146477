package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/dreamit/concierge/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by [Registry.CreateS2S] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// S2SFactory builds a speech-to-speech provider from its config entry. The
// provider must read its API key through key on every connect.
type S2SFactory func(entry ProviderEntry, key s2s.KeyFunc) (s2s.Provider, error)

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	s2s map[string]S2SFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{s2s: make(map[string]S2SFactory)}
}

// RegisterS2S registers an S2S provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterS2S(name string, factory S2SFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s[name] = factory
}

// CreateS2S instantiates an S2S provider using the factory registered under
// entry.Name. A nil key pins the provider to entry.APIKey. Returns
// [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateS2S(entry ProviderEntry, key s2s.KeyFunc) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.s2s[entry.Name]
	r.mu.RUnlock()
	if !ok {
		if hint := suggest(entry.Name, r.S2SNames()); hint != "" {
			return nil, fmt.Errorf("%w: s2s/%q (did you mean %q?)", ErrProviderNotRegistered, entry.Name, hint)
		}
		return nil, fmt.Errorf("%w: s2s/%q", ErrProviderNotRegistered, entry.Name)
	}
	if key == nil {
		key = s2s.StaticKey(entry.APIKey)
	}
	return factory(entry, key)
}

// suggestThreshold is the Jaro-Winkler similarity above which a known name
// is offered as the likely intended one.
const suggestThreshold = 0.85

// suggest returns the known name closest to name, or "" when none is close
// enough to be a plausible typo.
func suggest(name string, known []string) string {
	best, bestScore := "", suggestThreshold
	for _, k := range known {
		if score := matchr.JaroWinkler(strings.ToLower(name), k, false); score > bestScore {
			best, bestScore = k, score
		}
	}
	return best
}

// S2SNames returns the registered provider names in sorted order.
func (r *Registry) S2SNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.s2s))
	for name := range r.s2s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
