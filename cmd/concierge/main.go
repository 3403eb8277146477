// Command concierge runs the voice concierge: it opens the local microphone
// and speaker, connects to a native-audio agent and serves a small HTTP
// control surface for starting and closing sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dreamit/concierge/internal/app"
	"github.com/dreamit/concierge/internal/config"
	"github.com/dreamit/concierge/internal/observe"
	"github.com/dreamit/concierge/internal/resilience"
	"github.com/dreamit/concierge/pkg/audio/device"
	"github.com/dreamit/concierge/pkg/provider/s2s"
	"github.com/dreamit/concierge/pkg/provider/s2s/gemini"
	"github.com/dreamit/concierge/pkg/provider/s2s/genailive"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "concierge.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "concierge: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("concierge starting",
		"version", version,
		"config", *configPath,
		"from_file", fromFile,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tel, err := observe.Init(context.Background(),
		observe.WithService("concierge", version),
		observe.WithRegisterer(promReg),
	)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	live := config.NewLive(cfg)
	provider, err := buildProvider(live, reg)
	if err != nil {
		slog.Error("failed to create provider", "err", err, "known", reg.S2SNames())
		return 1
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	if err := device.Init(); err != nil {
		slog.Error("failed to initialise audio", "err", err)
		return 1
	}
	defer func() {
		if err := device.Terminate(); err != nil {
			slog.Warn("audio terminate error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, provider,
		app.WithMicrophone(device.Microphone{}),
		app.WithSpeaker(device.Speaker{}),
		app.WithGatherer(promReg),
		app.WithLogLevel(logLevel),
		app.WithKeyPrompt(promptForKey),
		app.WithLiveConfig(live),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if fromFile {
		if rl, err := config.NewReloader(*configPath, application.ApplyConfig); err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			go func() { _ = rl.Run(ctx) }()
			reloadOnHangup(ctx, rl)
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file is not fatal: the defaults are used
// and the API key is taken from the environment.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		return nil, false, err
	}
	fmt.Fprintf(os.Stderr, "concierge: config file %q not found; using defaults\n", path)
	return cfg, false, nil
}

// reloadOnHangup re-reads the config file on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, rl *config.Reloader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				slog.Info("SIGHUP received, reloading config")
				rl.Trigger()
			}
		}
	}()
}

// promptForKey tells the operator how to supply a working credential.
// Providers read the key from the live config, so the next session picks up
// a key saved to the config file without a restart.
func promptForKey(err error) {
	slog.Error("the agent rejected the API credential",
		"err", err,
		"fix", "set provider.api_key in the config file or export one of "+strings.Join(config.APIKeyEnvVars, ", "),
	)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the speech-to-speech providers that ship with
// the binary into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry, key s2s.KeyFunc) (s2s.Provider, error) {
		opts := []genailive.Option{genailive.WithKeyFunc(key)}
		if entry.Model != "" {
			opts = append(opts, genailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(entry.BaseURL))
		}
		return genailive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("gemini", func(entry config.ProviderEntry, key s2s.KeyFunc) (s2s.Provider, error) {
		opts := []gemini.Option{gemini.WithKeyFunc(key)}
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	for _, name := range reg.S2SNames() {
		slog.Debug("registered provider", "kind", "s2s", "name", name)
	}
}

// buildProvider creates the configured provider. With failover providers
// configured, the primary and its fallbacks are combined behind per-provider
// circuit breakers. Every provider reads its API key from live.
func buildProvider(live *config.Live, reg *config.Registry) (s2s.Provider, error) {
	cfg := live.Load()
	primary, err := reg.CreateS2S(cfg.Provider, live.PrimaryKey())
	if err != nil {
		return nil, fmt.Errorf("create provider %q: %w", cfg.Provider.Name, err)
	}
	slog.Info("provider created", "name", cfg.Provider.Name, "model", cfg.Provider.Model)
	if !cfg.Failover.Enabled() {
		return primary, nil
	}

	group := resilience.NewS2S(cfg.Provider.Name, primary, resilience.BreakerConfig{
		MaxFailures:  cfg.Failover.MaxFailures,
		ResetTimeout: cfg.Failover.ResetTimeout,
	})
	for i, entry := range cfg.Failover.Providers {
		p, err := reg.CreateS2S(entry, live.FallbackKey(i))
		if err != nil {
			return nil, fmt.Errorf("create failover provider %d %q: %w", i, entry.Name, err)
		}
		group.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), p)
	}
	slog.Info("provider failover enabled", "order", group.Names())
	return group, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	key := "(missing)"
	if cfg.Provider.APIKey != "" {
		key = "configured"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Concierge startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", cfg.Provider.Name)
	printRow("Model", cfg.Provider.Model)
	printRow("API key", key)
	printRow("Fallbacks", fmt.Sprint(len(cfg.Failover.Providers)))
	printRow("Persona", cfg.Concierge.Name)
	printRow("Resorts", fmt.Sprintf("%d override(s)", len(cfg.Resorts)))
	printRow("Autostart", fmt.Sprint(cfg.Concierge.Autostart))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(default)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
