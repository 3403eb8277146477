package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dreamit/concierge/internal/config"
	"github.com/dreamit/concierge/internal/resort"
	"github.com/dreamit/concierge/pkg/provider/s2s"
	s2smock "github.com/dreamit/concierge/pkg/provider/s2s/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: "127.0.0.1:9090"
  log_level: debug

provider:
  name: gemini-live
  api_key: file-key
  model: gemini-live-test
  options:
    temperature: 0.4

concierge:
  name: Elena
  brand: Dream it marketing
  voice: Zephyr
  autostart: true
  transcript_limit: 20

audio:
  input_sample_rate: 16000
  output_sample_rate: 24000
  frame_size: 2048
  input_device: "USB"

resorts:
  - name: Zimbali Lodge
    image_url: https://example.com/zimbali.jpg
  - name: Alpine Heath
    location: Northern Drakensberg
    category: mountain
    url: https://example.com/alpine
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Provider.Name != "gemini-live" || cfg.Provider.APIKey != "file-key" || cfg.Provider.Model != "gemini-live-test" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if got, ok := cfg.Provider.Options["temperature"].(float64); !ok || got != 0.4 {
		t.Errorf("provider.options.temperature = %v", cfg.Provider.Options["temperature"])
	}
	if !cfg.Concierge.Autostart || cfg.Concierge.TranscriptLimit != 20 || cfg.Concierge.Voice != "Zephyr" {
		t.Errorf("concierge = %+v", cfg.Concierge)
	}
	if cfg.Audio.FrameSize != 2048 || cfg.Audio.InputDevice != "USB" {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if len(cfg.Resorts) != 2 {
		t.Fatalf("resorts = %d, want 2", len(cfg.Resorts))
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Provider.Name != config.DefaultProvider || cfg.Provider.Model != config.DefaultModel {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Audio.InputSampleRate != 16000 || cfg.Audio.OutputSampleRate != 24000 || cfg.Audio.FrameSize != 4096 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Provider.APIKey != "" {
		t.Errorf("api_key = %q, want empty", cfg.Provider.APIKey)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  port: 80\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Concierge.Name != "Elena" {
		t.Errorf("concierge.name = %q", cfg.Concierge.Name)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ── API key resolution ───────────────────────────────────────────────────────

func TestApplyDefaults_APIKeyFromEnv(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		gemini string
		apiKey string
		want   string
	}{
		{name: "file wins", file: "from-file", gemini: "g", apiKey: "a", want: "from-file"},
		{name: "GEMINI_API_KEY before API_KEY", gemini: "g", apiKey: "a", want: "g"},
		{name: "API_KEY fallback", apiKey: "a", want: "a"},
		{name: "blank env ignored", gemini: "   ", apiKey: "a", want: "a"},
		{name: "none", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", tc.gemini)
			t.Setenv("API_KEY", tc.apiKey)

			cfg := &config.Config{Provider: config.ProviderEntry{APIKey: tc.file}}
			config.ApplyDefaults(cfg)
			if cfg.Provider.APIKey != tc.want {
				t.Errorf("api_key = %q, want %q", cfg.Provider.APIKey, tc.want)
			}
		})
	}
}

func TestApplyDefaults_FailoverInherits(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
provider:
  name: gemini-live
  api_key: primary-key
failover:
  max_failures: 2
  reset_timeout: 45s
  providers:
    - name: gemini
    - name: gemini
      api_key: other-key
      model: other-model
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if !cfg.Failover.Enabled() {
		t.Fatal("failover not enabled")
	}
	if cfg.Failover.ResetTimeout != 45*time.Second || cfg.Failover.MaxFailures != 2 {
		t.Errorf("failover = %+v", cfg.Failover)
	}
	first, second := cfg.Failover.Providers[0], cfg.Failover.Providers[1]
	if first.APIKey != "primary-key" || first.Model != config.DefaultModel {
		t.Errorf("inherited fallback = %+v", first)
	}
	if second.APIKey != "other-key" || second.Model != "other-model" {
		t.Errorf("explicit fallback = %+v", second)
	}
}

// ── Resorts ──────────────────────────────────────────────────────────────────

func TestResortOverrides(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	cat := resort.NewDefault()
	cat.Merge(cfg.ResortOverrides())

	z, _, ok := cat.Lookup("Zimbali Lodge")
	if !ok {
		t.Fatal("Zimbali Lodge missing after merge")
	}
	if z.ImageURL != "https://example.com/zimbali.jpg" {
		t.Errorf("image_url = %q, want override", z.ImageURL)
	}
	if z.Category != resort.CategorySea {
		t.Errorf("category = %q, want built-in Sea", z.Category)
	}

	a, _, ok := cat.Lookup("Alpine Heath")
	if !ok {
		t.Fatal("added resort missing")
	}
	if a.Category != resort.CategoryMountain || a.Location != "Northern Drakensberg" {
		t.Errorf("added resort = %+v", a)
	}
	if cat.Len() != len(resort.Defaults())+1 {
		t.Errorf("catalog size = %d", cat.Len())
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateS2S(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &s2smock.Provider{}

	var (
		got    config.ProviderEntry
		gotKey s2s.KeyFunc
	)
	reg.RegisterS2S("gemini-live", func(e config.ProviderEntry, key s2s.KeyFunc) (s2s.Provider, error) {
		got, gotKey = e, key
		return want, nil
	})

	p, err := reg.CreateS2S(config.ProviderEntry{Name: "gemini-live", APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("CreateS2S: %v", err)
	}
	if p != want {
		t.Error("CreateS2S returned a different provider")
	}
	if gotKey == nil {
		t.Fatal("factory received no key func")
	}
	if got.Name != "gemini-live" || gotKey() != "k" {
		t.Errorf("factory received %+v with key %q", got, gotKey())
	}

	if _, err := reg.CreateS2S(config.ProviderEntry{Name: "gemini-live", APIKey: "k"}, s2s.StaticKey("live")); err != nil {
		t.Fatalf("CreateS2S with key: %v", err)
	}
	if gotKey() != "live" {
		t.Errorf("key = %q, want the key func passed to CreateS2S", gotKey())
	}
	if _, err := p.Connect(context.Background(), s2s.SessionConfig{}); err != nil {
		t.Errorf("Connect: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateS2S(config.ProviderEntry{Name: "nope"}, nil)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("err = %v, no suggestion expected from an empty registry", err)
	}
}

func TestRegistry_SuggestsCloseName(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, name := range []string{"gemini", "gemini-live"} {
		reg.RegisterS2S(name, func(config.ProviderEntry, s2s.KeyFunc) (s2s.Provider, error) { return &s2smock.Provider{}, nil })
	}

	tests := []struct {
		name string
		hint string
	}{
		{"gemini-lve", `did you mean "gemini-live"?`},
		{"Gemini-Live2", `did you mean "gemini-live"?`},
		{"openai-realtime", ""},
	}
	for _, tc := range tests {
		_, err := reg.CreateS2S(config.ProviderEntry{Name: tc.name}, nil)
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
		got := strings.Contains(err.Error(), "did you mean")
		if tc.hint == "" && got {
			t.Errorf("%s: unexpected suggestion in %v", tc.name, err)
		}
		if tc.hint != "" && !strings.Contains(err.Error(), tc.hint) {
			t.Errorf("%s: err = %v, want %s", tc.name, err, tc.hint)
		}
	}
}

func TestRegistry_FactoryErrorAndNames(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterS2S("gemini", func(config.ProviderEntry, s2s.KeyFunc) (s2s.Provider, error) { return nil, boom })
	reg.RegisterS2S("gemini-live", func(config.ProviderEntry, s2s.KeyFunc) (s2s.Provider, error) { return &s2smock.Provider{}, nil })

	if _, err := reg.CreateS2S(config.ProviderEntry{Name: "gemini"}, nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
	if got := reg.S2SNames(); !slices.Equal(got, []string{"gemini", "gemini-live"}) {
		t.Errorf("S2SNames = %v", got)
	}
}
