package config

import (
	"sync/atomic"

	"github.com/dreamit/concierge/pkg/provider/s2s"
)

// Live holds the configuration currently in effect. Hot reload stores into
// it and long-lived components read from it. It is safe for concurrent use.
type Live struct {
	cur atomic.Pointer[Config]
}

// NewLive returns a Live holding cfg.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.cur.Store(cfg)
	return l
}

// Load returns the configuration in effect.
func (l *Live) Load() *Config { return l.cur.Load() }

// Store replaces the configuration in effect.
func (l *Live) Store(cfg *Config) { l.cur.Store(cfg) }

// PrimaryKey returns a getter for the primary provider's API key.
func (l *Live) PrimaryKey() s2s.KeyFunc {
	return func() string { return l.Load().Provider.APIKey }
}

// FallbackKey returns a getter for the API key of failover entry i. It
// yields "" once a reload drops the entry.
func (l *Live) FallbackKey(i int) s2s.KeyFunc {
	return func() string {
		fbs := l.Load().Failover.Providers
		if i < 0 || i >= len(fbs) {
			return ""
		}
		return fbs[i].APIKey
	}
}
