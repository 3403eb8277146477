// Package gemini talks to the Gemini Live BidiGenerateContent endpoint over
// a raw WebSocket.
//
// Microphone packets and agent audio keep their base64 PCM payloads end to
// end; nothing is re-encoded here. Server frames are surfaced as
// [s2s.Event] values in wire order.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/dreamit/concierge/pkg/audio"
	"github.com/dreamit/concierge/pkg/provider/s2s"
)

var _ s2s.Provider = (*Provider)(nil)

const (
	// DefaultModel is the native-audio model used when none is configured.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	bidiPath       = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultPing = 20 * time.Second
	pingTimeout = 5 * time.Second

	// eventBuffer bounds how far the read loop may run ahead of the consumer.
	eventBuffer = 256
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the default model for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the provider at another WebSocket endpoint, such as a
// local fake in tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// WithKeyFunc makes the provider ask fn for the API key on every Connect
// instead of using the key passed to [New].
func WithKeyFunc(fn s2s.KeyFunc) Option {
	return func(p *Provider) {
		if fn != nil {
			p.key = fn
		}
	}
}

// WithKeepalive sets the WebSocket ping interval. Zero disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(p *Provider) { p.ping = max(d, 0) }
}

// Provider opens Gemini Live sessions.
type Provider struct {
	key     s2s.KeyFunc
	model   string
	baseURL string
	ping    time.Duration
}

// New returns a provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{key: s2s.StaticKey(apiKey), model: DefaultModel, baseURL: defaultBaseURL, ping: defaultPing}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capabilities reports the PCM rates the endpoint expects and its prebuilt
// voices.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:  audio.InputSampleRate,
		OutputSampleRate: audio.OutputSampleRate,
		Voices:           []string{"Zephyr", "Puck", "Charon", "Kore", "Fenrir", "Aoede"},
	}
}

func (p *Provider) endpoint(key string) string {
	return p.baseURL + bidiPath + "?key=" + url.QueryEscape(key)
}

// Connect dials the endpoint and sends the setup frame. Audio may be sent
// as soon as it returns; [s2s.EventOpen] arrives when the server
// acknowledges the setup. A handshake refused with 400, 401, 403 or 404 is
// reported as [s2s.ErrInvalidCredential].
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	key := p.key()
	if key == "" {
		return nil, fmt.Errorf("gemini: connect: %w", s2s.ErrMissingCredential)
	}

	conn, resp, err := websocket.Dial(ctx, p.endpoint(key), &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": {"application/json"}},
	})
	if err != nil {
		if resp != nil && isCredentialStatus(resp.StatusCode) {
			return nil, fmt.Errorf("gemini: dial: %w: http %d", s2s.ErrInvalidCredential, resp.StatusCode)
		}
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(-1)

	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	s := newSession(conn, p.ping)
	if err := s.send(clientFrame{Setup: newSetup(model, cfg)}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	s.start()
	return s, nil
}
