// Package app wires the concierge subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the resort catalog, the
// visual display, the tool bridge and the session controller; Run serves the
// local HTTP control surface until the context is cancelled; Shutdown tears
// everything down in order.
//
// For testing, inject mock devices and a mock provider through New and the
// functional options. Nothing in this package touches PortAudio directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dreamit/concierge/internal/concierge"
	"github.com/dreamit/concierge/internal/config"
	"github.com/dreamit/concierge/internal/health"
	"github.com/dreamit/concierge/internal/observe"
	"github.com/dreamit/concierge/internal/resilience"
	"github.com/dreamit/concierge/internal/resort"
	"github.com/dreamit/concierge/internal/toolbridge"
	"github.com/dreamit/concierge/internal/visual"
	"github.com/dreamit/concierge/pkg/audio"
	"github.com/dreamit/concierge/pkg/provider/s2s"
)

// shutdownGrace bounds how long in-flight HTTP requests may take once Run's
// context is cancelled.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	live     *config.Live
	provider s2s.Provider

	mic       audio.Microphone
	spk       audio.Speaker
	metrics   *observe.Metrics
	gatherer  prometheus.Gatherer
	logLevel  *slog.LevelVar
	keyPrompt concierge.KeyPrompt

	catalog *resort.Catalog
	display *visual.Display
	bridge  *toolbridge.Bridge
	ctrl    *concierge.Controller
	health  *health.Prober
	handler http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMicrophone sets the capture device.
func WithMicrophone(m audio.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithSpeaker sets the playback device.
func WithSpeaker(s audio.Speaker) Option {
	return func(a *App) { a.spk = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g at /metrics. Without it /metrics is not registered.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogLevel lets hot reload adjust lvl.
func WithLogLevel(lvl *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lvl }
}

// WithLiveConfig shares l with the provider so that a reloaded API key
// reaches both the readiness check and the next session. l is set to the
// config passed to [New].
func WithLiveConfig(l *config.Live) Option {
	return func(a *App) { a.live = l }
}

// WithKeyPrompt is invoked when a session fails on its API credential.
func WithKeyPrompt(fn concierge.KeyPrompt) Option {
	return func(a *App) { a.keyPrompt = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The provider comes
// from main.go (populated via the config registry).
func New(cfg *config.Config, provider s2s.Provider, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, errors.New("app: provider is required")
	}
	a := &App{provider: provider}
	for _, o := range opts {
		o(a)
	}
	if a.live == nil {
		a.live = config.NewLive(cfg)
	} else {
		a.live.Store(cfg)
	}
	if a.mic == nil || a.spk == nil {
		return nil, errors.New("app: microphone and speaker are required")
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Catalog + display ─────────────────────────────────────────────
	a.catalog = resort.NewDefault()
	a.catalog.Merge(cfg.ResortOverrides())
	a.display = visual.New()
	a.display.Subscribe(func(st visual.State) {
		if st.Visible() {
			slog.Info("visual context updated", "resort", st.Resort.Name, "query", st.Query)
		} else {
			slog.Debug("visual context cleared")
		}
	})

	// ── 2. Tool bridge ───────────────────────────────────────────────────
	a.bridge = toolbridge.New(
		toolbridge.ResortTools(a.catalog, a.display),
		toolbridge.WithObserver(func(name, status string, elapsed time.Duration) {
			a.metrics.RecordToolCall(context.Background(), name, status, elapsed.Seconds())
		}),
	)

	// ── 3. Controller ────────────────────────────────────────────────────
	ctrlOpts := []concierge.Option{
		concierge.WithSessionConfig(SessionConfig(cfg, a.catalog)),
		concierge.WithInputStream(audio.StreamConfig{
			SampleRate: cfg.Audio.InputSampleRate,
			Channels:   1,
			FrameSize:  cfg.Audio.FrameSize,
			Device:     cfg.Audio.InputDevice,
		}),
		concierge.WithOutputStream(audio.StreamConfig{
			SampleRate: cfg.Audio.OutputSampleRate,
			Channels:   1,
			Device:     cfg.Audio.OutputDevice,
		}),
		concierge.WithBridge(a.bridge),
		concierge.WithMetrics(a.metrics),
		concierge.WithProviderName(cfg.Provider.Name),
		concierge.WithTranscriptLimit(cfg.Concierge.TranscriptLimit),
	}
	if a.keyPrompt != nil {
		ctrlOpts = append(ctrlOpts, concierge.WithKeyPrompt(a.keyPrompt))
	}
	a.ctrl = concierge.New(provider, a.mic, a.spk, ctrlOpts...)
	a.closers = append(a.closers, a.ctrl.Close)

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.Configured("api_key", func() string { return a.config().Provider.APIKey }),
		health.Require("catalog", func(context.Context) error {
			if a.catalog.Len() == 0 {
				return errors.New("no resorts")
			}
			return nil
		}),
	)
	if group, ok := provider.(*resilience.S2S); ok {
		a.health.Add(health.Advise("failover", breakerProbe(group)))
	}

	// ── 5. HTTP routes ───────────────────────────────────────────────────
	mux := http.NewServeMux()
	a.routes(mux)
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// SessionConfig builds the session configuration for cfg: the configured
// persona prompt, or the built-in one naming every resort in cat.
func SessionConfig(cfg *config.Config, cat *resort.Catalog) s2s.SessionConfig {
	instructions := cfg.Concierge.Instructions
	if instructions == "" {
		instructions = concierge.Instructions(cfg.Concierge.Name, cfg.Concierge.Brand, cat.Names(), toolbridge.ShowResortVisual)
	}
	voice := cfg.Concierge.Voice
	if voice == "" {
		voice = concierge.DefaultVoice
	}
	return s2s.SessionConfig{
		Model:        cfg.Provider.Model,
		Voice:        voice,
		Instructions: instructions,
		Transcribe:   true,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the session controller.
func (a *App) Controller() *concierge.Controller { return a.ctrl }

// Display returns the visual display.
func (a *App) Display() *visual.Display { return a.display }

// Catalog returns the resort catalog.
func (a *App) Catalog() *resort.Catalog { return a.catalog }

// Handler returns the instrumented HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) config() *config.Config {
	return a.live.Load()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. Persona and
// catalog changes affect the next session only; a live session keeps the
// configuration it was opened with.
func (a *App) ApplyConfig(_, next *config.Config, d config.ConfigDiff) {
	a.live.Store(next)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ResortsChanged {
		a.catalog.Merge(next.ResortOverrides())
		slog.Info("resort catalog updated", "resorts", a.catalog.Len())
	}
	if d.KeyChanged {
		slog.Info("API key updated; applies to the next session")
	}
	if d.PersonaChanged || d.ResortsChanged {
		a.ctrl.SetSessionConfig(SessionConfig(next, a.catalog))
		slog.Info("session configuration updated; applies to the next session")
	}
}

// SlogLevel maps a config level onto slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config().Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the control surface on ln until ctx is cancelled, then shuts
// the server down gracefully. When autostart is configured a session is
// opened once the listener is up; its failure is logged, not fatal.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.config()
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Concierge.Autostart {
		g.Go(func() error {
			if err := a.ctrl.Start(gctx); err != nil {
				slog.Warn("autostart failed", "err", err, "status", a.ctrl.Status())
			}
			return nil
		})
	}

	slog.Info("app running", "addr", ln.Addr().String(), "resorts", a.catalog.Len(), "tools", a.bridge.Names())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// metricsHandler serves the Prometheus registry.
func (a *App) metricsHandler() http.Handler {
	return promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})
}

// breakerProbe fails while any provider in the group has an open circuit.
// Sessions still start on the remaining providers, so the failure is
// advisory.
func breakerProbe(group *resilience.S2S) func(context.Context) error {
	return func(context.Context) error {
		states := group.States()
		var open []string
		for _, name := range group.Names() {
			if states[name] == resilience.StateOpen {
				open = append(open, name)
			}
		}
		switch {
		case len(open) == 0:
			return nil
		case len(open) == len(states):
			return fmt.Errorf("all providers open: %s", strings.Join(open, ", "))
		default:
			return fmt.Errorf("open: %s", strings.Join(open, ", "))
		}
	}
}
