package config_test

import (
	"slices"
	"testing"

	"github.com/dreamit/concierge/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{ListenAddr: ":8787", LogLevel: config.LogInfo},
		Provider: config.ProviderEntry{Name: "gemini-live", APIKey: "k"},
		Concierge: config.ConciergeConfig{
			Name:  "Elena",
			Brand: "Dream it marketing",
			Voice: "Zephyr",
		},
		Audio:   config.AudioConfig{InputSampleRate: 16000, OutputSampleRate: 24000, FrameSize: 4096},
		Resorts: []config.ResortConfig{{Name: "Royal Palm", ImageURL: "a.jpg"}},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("identical configs reported changes: %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.PersonaChanged || d.ResortsChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_Persona(t *testing.T) {
	t.Parallel()

	mutations := map[string]func(*config.Config){
		"name":         func(c *config.Config) { c.Concierge.Name = "Sofia" },
		"brand":        func(c *config.Config) { c.Concierge.Brand = "Acme" },
		"voice":        func(c *config.Config) { c.Concierge.Voice = "Puck" },
		"instructions": func(c *config.Config) { c.Concierge.Instructions = "Be terse." },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			mutate(new)
			if d := config.Diff(baseConfig(), new); !d.PersonaChanged {
				t.Errorf("%s change not reported as persona change", name)
			}
		})
	}

	new := baseConfig()
	new.Concierge.Autostart = true
	if d := config.Diff(baseConfig(), new); d.PersonaChanged {
		t.Error("autostart should not count as a persona change")
	}
}

func TestDiff_Resorts(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Resorts[0].ImageURL = "b.jpg"
	if d := config.Diff(baseConfig(), new); !d.ResortsChanged {
		t.Error("expected ResortsChanged=true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Server.ListenAddr = ":9999"
	new.Provider.Model = "other"
	new.Audio.InputDevice = "USB"

	d := config.Diff(baseConfig(), new)
	want := []string{"server.listen_addr", "provider", "audio"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}

func TestDiff_KeyIsHot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"primary key", func(c *config.Config) { c.Provider.APIKey = "rotated" }},
		{"fallback key", func(c *config.Config) { c.Failover.Providers[0].APIKey = "rotated" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			old.Failover.Providers = []config.ProviderEntry{{Name: "gemini", APIKey: "k"}}
			new.Failover.Providers = []config.ProviderEntry{{Name: "gemini", APIKey: "k"}}
			tc.mutate(new)

			d := config.Diff(old, new)
			if !d.KeyChanged {
				t.Error("expected KeyChanged=true")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none for a key change", d.RestartRequired)
			}
		})
	}
}

func TestDiff_FailoverRequiresRestart(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Failover.Providers = []config.ProviderEntry{{Name: "gemini"}}

	d := config.Diff(baseConfig(), new)
	if !slices.Equal(d.RestartRequired, []string{"failover"}) {
		t.Errorf("RestartRequired = %v, want [failover]", d.RestartRequired)
	}
}
