// Package config provides the configuration schema, loader, and provider registry
// for the voice concierge.
package config

import (
	"time"

	"github.com/dreamit/concierge/internal/resort"
)

// LogLevel controls log verbosity for the concierge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = "127.0.0.1:8787"
	DefaultProvider         = "gemini-live"
	DefaultModel            = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultFrameSize        = 4096
)

// APIKeyEnvVars are consulted in order when provider.api_key is empty.
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "API_KEY"}

// Config is the root configuration structure for the concierge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Provider  ProviderEntry   `yaml:"provider"`
	Concierge ConciergeConfig `yaml:"concierge"`
	Audio     AudioConfig     `yaml:"audio"`

	// Failover lists providers tried, in order, when the primary provider
	// cannot open a session.
	Failover FailoverConfig `yaml:"failover"`

	// Resorts overrides fields of built-in catalog entries by name, or adds
	// new entries.
	Resorts []ResortConfig `yaml:"resorts"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP control surface listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry configures the remote speech-to-speech provider. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation ("gemini-live" or
	// "gemini").
	Name string `yaml:"name"`

	// APIKey authenticates with the provider. When empty, the variables in
	// [APIKeyEnvVars] are consulted by [ApplyDefaults].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the native-audio model.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// FailoverConfig configures provider failover. With no providers listed the
// primary is used alone.
type FailoverConfig struct {
	// Providers are the fallbacks. Empty api_key and model fields inherit
	// the primary's values.
	Providers []ProviderEntry `yaml:"providers"`

	// MaxFailures is the number of consecutive connect failures after which
	// a provider is skipped until ResetTimeout elapses. Default: 3.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long a tripped provider is skipped. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Enabled reports whether any fallback provider is configured.
func (f FailoverConfig) Enabled() bool { return len(f.Providers) > 0 }

// ConciergeConfig describes the agent persona and session behaviour.
type ConciergeConfig struct {
	// Name is the persona's name used in the built-in prompt.
	Name string `yaml:"name"`

	// Brand is the company the persona represents.
	Brand string `yaml:"brand"`

	// Voice is the prebuilt voice the agent speaks with.
	Voice string `yaml:"voice"`

	// Instructions replaces the built-in persona prompt when non-empty.
	Instructions string `yaml:"instructions"`

	// Autostart opens a session as soon as the server is up.
	Autostart bool `yaml:"autostart"`

	// TranscriptLimit caps the transcript entries kept per session.
	TranscriptLimit int `yaml:"transcript_limit"`
}

// AudioConfig selects local devices and stream formats.
type AudioConfig struct {
	InputSampleRate  int `yaml:"input_sample_rate"`
	OutputSampleRate int `yaml:"output_sample_rate"`
	FrameSize        int `yaml:"frame_size"`

	// InputDevice and OutputDevice select devices by case-insensitive
	// substring of their name. Empty selects the host default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`
}

// ResortConfig is one catalog override or addition. Empty fields keep the
// built-in value.
type ResortConfig struct {
	Name        string `yaml:"name"`
	Location    string `yaml:"location"`
	Category    string `yaml:"category"`
	ImageURL    string `yaml:"image_url"`
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

// Resort converts the override to a catalog entry. An unparseable category
// is left empty, which keeps the built-in value on merge.
func (r ResortConfig) Resort() resort.Resort {
	cat, _ := resort.ParseCategory(r.Category)
	return resort.Resort{
		Name:        r.Name,
		Location:    r.Location,
		Category:    cat,
		ImageURL:    r.ImageURL,
		URL:         r.URL,
		Description: r.Description,
	}
}

// ResortOverrides returns the configured catalog overrides.
func (c *Config) ResortOverrides() []resort.Resort {
	out := make([]resort.Resort, 0, len(c.Resorts))
	for _, r := range c.Resorts {
		out = append(out, r.Resort())
	}
	return out
}
