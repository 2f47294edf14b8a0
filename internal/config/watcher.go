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

// defaultPollInterval is how often [Watcher.Run] checks the file.
const defaultPollInterval = 5 * time.Second

// ReloadFunc is called after a valid edit was applied. d describes what
// changed; cfg is the new effective config.
type ReloadFunc func(d ConfigDiff, cfg *Config)

// Watcher keeps the hot-reloadable part of a config file current.
//
// Only the live section and the log level follow the file. Everything else
// (listen address, providers, archive) stays as loaded at startup and is
// reported in [ConfigDiff.RestartRequired] instead. Invalid edits are logged
// and the previous config is kept.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc
	log      *slog.Logger

	mu      sync.RWMutex
	current *Config
	modTime time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. The default is [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and returns a Watcher for it. Polling starts with
// [Watcher.Run]. onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onReload: onReload,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.modTime, w.sum = snap.cfg, snap.modTime, snap.sum
	return w, nil
}

// Current returns the effective config. The returned value must not be
// modified; reloads replace it rather than mutate it.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run polls the file until ctx is done. It always returns nil so it can run
// in an errgroup next to the server.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check reloads the file once if it changed. Run calls it on every tick.
func (w *Watcher) Check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.RLock()
	unchanged := info.ModTime().Equal(w.modTime)
	w.mu.RUnlock()
	if unchanged {
		return
	}

	snap, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.sum == w.sum {
		// Touched without edits.
		w.modTime = snap.modTime
		w.mu.Unlock()
		return
	}
	old := w.current
	next := overlay(old, snap.cfg)
	w.current, w.modTime, w.sum = next, snap.modTime, snap.sum
	w.mu.Unlock()

	d := Diff(old, snap.cfg)
	w.log.Info("config watcher: configuration reloaded", "path", w.path, "hot_changes", d.Changed())
	if w.onReload != nil {
		w.onReload(d, next)
	}
}

// overlay returns a copy of running with the hot-reloadable settings of
// loaded applied.
func overlay(running, loaded *Config) *Config {
	next := *running
	next.Server.LogLevel = loaded.Server.LogLevel
	next.Live = loaded.Live
	return &next
}

type snapshot struct {
	cfg     *Config
	modTime time.Time
	sum     [sha256.Size]byte
}

// read parses and validates the file. An invalid file yields an error so the
// caller keeps what it has.
func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
