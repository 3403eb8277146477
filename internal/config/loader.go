package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dreamit/concierge/internal/resort"
)

// ValidProviderNames lists the speech-to-speech providers built into the
// binary. Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini-live", "gemini"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults and resolves the
// API key from the environment when the file does not set one.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProvider
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.APIKey == "" {
		for _, name := range APIKeyEnvVars {
			if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
				cfg.Provider.APIKey = strings.TrimSpace(v)
				break
			}
		}
	}
	for i := range cfg.Failover.Providers {
		fb := &cfg.Failover.Providers[i]
		if fb.APIKey == "" {
			fb.APIKey = cfg.Provider.APIKey
		}
		if fb.Model == "" {
			fb.Model = cfg.Provider.Model
		}
	}
	if cfg.Audio.InputSampleRate == 0 {
		cfg.Audio.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.Audio.OutputSampleRate == 0 {
		cfg.Audio.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Provider
	validateProviderName(cfg.Provider.Name)
	if cfg.Provider.APIKey == "" {
		slog.Warn("no API key configured; sessions will fail until one is provided",
			"env", APIKeyEnvVars)
	}

	for i, fb := range cfg.Failover.Providers {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("failover.providers[%d].name is required", i))
			continue
		}
		validateProviderName(fb.Name)
	}
	if cfg.Failover.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("failover.max_failures %d must not be negative", cfg.Failover.MaxFailures))
	}
	if cfg.Failover.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("failover.reset_timeout %s must not be negative", cfg.Failover.ResetTimeout))
	}

	// Audio
	if cfg.Audio.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d must be positive", cfg.Audio.InputSampleRate))
	}
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must be positive", cfg.Audio.OutputSampleRate))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	// Concierge
	if cfg.Concierge.TranscriptLimit < 0 {
		errs = append(errs, fmt.Errorf("concierge.transcript_limit %d must not be negative", cfg.Concierge.TranscriptLimit))
	}

	// Resorts
	seen := make(map[string]int, len(cfg.Resorts))
	for i, r := range cfg.Resorts {
		prefix := fmt.Sprintf("resorts[%d]", i)
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if key == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of resorts[%d]", prefix, r.Name, prev))
		}
		seen[key] = i
		if r.Category != "" {
			if _, err := resort.ParseCategory(r.Category); err != nil {
				errs = append(errs, fmt.Errorf("%s.category: %w", prefix, err))
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	attrs := []any{"name", name, "known", ValidProviderNames}
	if hint := suggest(name, ValidProviderNames); hint != "" {
		attrs = append(attrs, "did_you_mean", hint)
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider", attrs...)
}
