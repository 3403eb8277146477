package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives a reloaded config together with what changed.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Reloader keeps the config file and the running process in step. [Run]
// polls the file's modification time; [Trigger] (wired to SIGHUP by the
// binary) forces a read. A new config is applied only when its content
// differs from the current one and it validates; invalid edits are logged
// and the last good config stays current.
type Reloader struct {
	path     string
	interval time.Duration
	apply    ChangeFunc
	kick     chan struct{}

	mu      sync.Mutex
	current *Config
	digest  [sha256.Size]byte
	mtime   time.Time
}

// ReloadOption configures a [Reloader].
type ReloadOption func(*Reloader)

// WithInterval sets how often [Reloader.Run] polls. The default is 5 seconds.
func WithInterval(d time.Duration) ReloadOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewReloader loads path and returns a reloader holding it as the current
// config. Nothing is polled until [Reloader.Run] is called.
func NewReloader(path string, apply ChangeFunc, opts ...ReloadOption) (*Reloader, error) {
	r := &Reloader{
		path:     path,
		interval: 5 * time.Second,
		apply:    apply,
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	snap, err := r.read()
	if err != nil {
		return nil, fmt.Errorf("config: reloader: %w", err)
	}
	r.current, r.digest, r.mtime = snap.cfg, snap.digest, snap.mtime
	return r, nil
}

// Current returns the config last applied.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Trigger asks a running [Reloader.Run] to re-read the file now, regardless
// of its modification time. It never blocks; triggers that arrive while one
// is pending are coalesced.
func (r *Reloader) Trigger() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done. It returns nil on cancellation.
func (r *Reloader) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.poll()
		case <-r.kick:
			if _, err := r.Reload(); err != nil {
				slog.Warn("config: reload rejected", "path", r.path, "err", err)
			}
		}
	}
}

func (r *Reloader) poll() {
	info, err := os.Stat(r.path)
	if err != nil {
		slog.Warn("config: cannot stat config file", "path", r.path, "err", err)
		return
	}
	r.mu.Lock()
	unchanged := info.ModTime().Equal(r.mtime)
	r.mu.Unlock()
	if unchanged {
		return
	}
	if _, err := r.Reload(); err != nil {
		// Warn once per edit, not once per tick.
		r.mu.Lock()
		r.mtime = info.ModTime()
		r.mu.Unlock()
		slog.Warn("config: reload rejected", "path", r.path, "err", err)
	}
}

// Reload reads the file immediately. It reports whether a new config was
// applied; identical content is not an error and applies nothing. On error
// the current config is kept.
func (r *Reloader) Reload() (bool, error) {
	snap, err := r.read()
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.mtime = snap.mtime
	if snap.digest == r.digest {
		r.mu.Unlock()
		return false, nil
	}
	old := r.current
	r.current, r.digest = snap.cfg, snap.digest
	r.mu.Unlock()

	d := Diff(old, snap.cfg)
	slog.Info("config: reloaded",
		"path", r.path,
		"log_level_changed", d.LogLevelChanged,
		"persona_changed", d.PersonaChanged,
		"resorts_changed", d.ResortsChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes take effect after restart", "fields", d.RestartRequired)
	}
	// Outside the lock: apply may call Current.
	if r.apply != nil {
		r.apply(old, snap.cfg, d)
	}
	return true, nil
}

type snapshot struct {
	cfg    *Config
	digest [sha256.Size]byte
	mtime  time.Time
}

func (r *Reloader) read() (snapshot, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, digest: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
