package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged is true when name, brand, voice or instructions differ.
	// Persona changes apply to the next session, never to a live one.
	PersonaChanged bool

	// ResortsChanged is true when the catalog overrides differ.
	ResortsChanged bool

	// KeyChanged is true when the API key of the primary or of a failover
	// entry differs. Providers read keys through [Live], so the
	// next session uses the new key without a restart.
	KeyChanged bool

	// RestartRequired lists changed fields that only take effect after a
	// process restart.
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.ResortsChanged || d.KeyChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Concierge, new.Concierge
	if oc.Name != nc.Name || oc.Brand != nc.Brand || oc.Voice != nc.Voice || oc.Instructions != nc.Instructions {
		d.PersonaChanged = true
	}

	if !slices.Equal(old.Resorts, new.Resorts) {
		d.ResortsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameTarget(old.Provider, new.Provider) {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	of, nf := old.Failover, new.Failover
	if of.MaxFailures != nf.MaxFailures || of.ResetTimeout != nf.ResetTimeout ||
		!slices.EqualFunc(of.Providers, nf.Providers, sameTarget) {
		d.RestartRequired = append(d.RestartRequired, "failover")
	}
	d.KeyChanged = old.Provider.APIKey != new.Provider.APIKey
	if len(of.Providers) == len(nf.Providers) {
		for i := range of.Providers {
			if of.Providers[i].APIKey != nf.Providers[i].APIKey {
				d.KeyChanged = true
			}
		}
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}

	return d
}

// sameTarget compares the fields a provider is built from. The API key is
// left out; it is read on every connect.
func sameTarget(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.BaseURL == b.BaseURL && a.Model == b.Model
}
