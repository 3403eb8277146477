package resilience

import (
	"context"
	"errors"

	"github.com/dreamit/concierge/pkg/provider/s2s"
)

var _ s2s.Provider = (*S2S)(nil)

// S2S implements [s2s.Provider] by opening the session on the first healthy
// provider. Only session establishment fails over; a session that drops
// after it opened is reported to the caller like any other.
type S2S struct {
	group *Failover[s2s.Provider]
}

// NewS2S returns an [S2S] preferring primary.
func NewS2S(name string, primary s2s.Provider, cfg BreakerConfig) *S2S {
	return &S2S{group: NewFailover(name, primary, FailoverConfig{
		Breaker: cfg,
		Final:   isContextErr,
	})}
}

// AddFallback registers another provider, tried after those already added.
func (f *S2S) AddFallback(name string, p s2s.Provider) {
	f.group.Add(name, p)
}

// Names returns the providers in the order they are tried.
func (f *S2S) Names() []string { return f.group.Names() }

// States returns each provider's breaker state.
func (f *S2S) States() map[string]State { return f.group.States() }

// Connect implements [s2s.Provider].
func (f *S2S) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	h, _, err := Do(f.group, func(p s2s.Provider) (s2s.SessionHandle, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return p.Connect(ctx, cfg)
	})
	return h, err
}

// Capabilities implements [s2s.Provider] and reports the primary's.
func (f *S2S) Capabilities() s2s.Capabilities {
	return f.group.Primary().Capabilities()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
