// Package app wires all Guru subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// releases what New opened.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithConfigSource, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/guru/internal/archive"
	"github.com/MrWong99/guru/internal/assistant"
	"github.com/MrWong99/guru/internal/bridge"
	"github.com/MrWong99/guru/internal/config"
	"github.com/MrWong99/guru/internal/health"
	"github.com/MrWong99/guru/internal/mcp"
	"github.com/MrWong99/guru/internal/observe"
	"github.com/MrWong99/guru/internal/server"
	"github.com/MrWong99/guru/internal/transcript/phonetic"
	"github.com/MrWong99/guru/pkg/audio"
	"github.com/MrWong99/guru/pkg/memory"
	"github.com/MrWong99/guru/pkg/memory/postgres"
	"github.com/MrWong99/guru/pkg/provider/llm"
	"github.com/MrWong99/guru/pkg/provider/s2s"
)

// defaultAssistantName labels assistant lines when live.wake_name is unset.
const defaultAssistantName = "Assistant"

// ErrNoLiveProvider is returned by the live bridge factory when no S2S
// provider is configured.
var ErrNoLiveProvider = errors.New("app: no s2s provider configured")

var errArchiveDegraded = errors.New("transcript store unreachable, turns are being dropped")

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// S2S drives live conversations.
	S2S s2s.Provider

	// S2SName labels the live provider in logs.
	S2SName string

	// LLM serves the one-shot panes. It is usually a fallback group.
	LLM llm.Provider

	// LLMName labels pane requests in metrics.
	LLMName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	current   func() *config.Config
	watcher   *config.Watcher
	log       *slog.Logger
	metrics   *observe.Metrics
	version   string

	// Subsystems — initialised in New, torn down in Shutdown.
	sessions  memory.SessionStore
	guard     *archive.Guard
	archiver  *archive.Archiver
	assistant *assistant.Assistant
	health    *health.Handler
	server    *server.Server
	checkers  []health.Checker

	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a transcript store instead of creating one from
// config.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.sessions = s }
}

// WithWatcher makes live sessions pick up persona and voice changes from w.
// Run also runs w.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) {
		a.watcher = w
		a.current = w.Current
	}
}

// WithConfigSource overrides where live sessions read their settings from.
func WithConfigSource(fn func() *config.Config) Option {
	return func(a *App) { a.current = fn }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithListener serves on ln instead of listening on cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		current:   func() *config.Config { return cfg },
		log:       slog.Default(),
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript archive ────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Assistant panes ───────────────────────────────────────────────
	if providers.LLM != nil {
		ac := cfg.Assistant
		a.assistant = assistant.New(providers.LLM, assistant.Config{
			SearchModel:    ac.SearchModel,
			ReasonModel:    ac.ReasonModel,
			DictateModel:   ac.DictateModel,
			ThinkingBudget: ac.ThinkingBudget,
			DictationMIME:  ac.DictationMIME,
			RequestTimeout: ac.RequestTimeout,
		},
			assistant.WithLogger(a.log),
			assistant.WithMetrics(a.metrics),
			assistant.WithProviderName(providers.LLMName),
		)
	}

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	a.checkers = append(a.checkers, health.Checker{Name: "archive", Optional: true, Check: a.checkArchive})
	a.health = health.New(a.checkers, health.WithVersion(a.version))
	srvOpts := []server.Option{
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
		server.WithHealth(a.health),
		server.WithTranscripts(a.guard),
		server.WithMCP(mcp.Handler(mcp.NewServer(a.guard, a.version))),
	}
	if providers.S2S != nil {
		srvOpts = append(srvOpts, server.WithLive(a.NewBridge))
	}
	if a.assistant != nil {
		srvOpts = append(srvOpts, server.WithAssistant(a.assistant))
	}
	a.server = server.New(server.Config{
		MaxAudioBytes:  cfg.Assistant.MaxAudioBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MicTimeout:     cfg.Live.MicTimeout,
	}, srvOpts...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// checkArchive reports whether the last transcript store operation failed.
func (a *App) checkArchive(context.Context) error {
	if a.guard.IsDegraded() {
		return errArchiveDegraded
	}
	return nil
}

// initMemory sets up the PostgreSQL transcript store, falling back to an
// in-process store when no DSN is configured.
func (a *App) initMemory(ctx context.Context) error {
	if a.sessions == nil {
		if dsn := a.cfg.Memory.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.sessions = store
			a.checkers = append(a.checkers, health.Checker{Name: "database", Optional: true, Check: store.Ping})
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
		} else {
			a.log.Info("memory.postgres_dsn not set, keeping transcripts in memory")
			a.sessions = memory.NewInMemory()
		}
	}
	a.guard = archive.NewGuard(a.sessions, a.log)
	a.archiver = archive.New(a.sessions,
		archive.WithQueueSize(a.cfg.Memory.ArchiveQueue),
		archive.WithLogger(a.log),
		archive.WithMetrics(a.metrics),
	)
	return nil
}

// NewBridge builds the live bridge for one browser connection from the
// current config, so edits to persona and voice apply to the next
// connection.
func (a *App) NewBridge(devices audio.Devices, opts ...bridge.Option) (*bridge.Bridge, error) {
	if a.providers.S2S == nil {
		return nil, ErrNoLiveProvider
	}
	live := a.current().Live
	in, out := a.sampleRates(live)
	name := cmp.Or(live.WakeName, defaultAssistantName)
	base := []bridge.Option{
		bridge.WithLogger(a.log),
		bridge.WithMetrics(a.metrics),
		bridge.WithTurnHook(a.archiver.ArchiveTurn(name)),
	}
	if names := live.WakeNames(); len(names) > 0 {
		base = append(base, bridge.WithDetector(phonetic.NewDetector(names)))
	}
	return bridge.New(a.providers.S2S, devices, bridge.Config{
		Model:              live.Model,
		Voice:              live.Voice,
		Instructions:       live.PersonaText(),
		AssistantName:      name,
		InputSampleRate:    in,
		OutputSampleRate:   out,
		BlockSize:          live.BlockSize,
		SendQueue:          live.SendQueue,
		TranscriptLines:    live.TranscriptLines,
		DecodeFailureLimit: live.DecodeFailureLimit,
	}, append(base, opts...)...), nil
}

// sampleRates resolves the live PCM rates: configured values win, then the
// provider's advertised rates, then the bridge defaults.
func (a *App) sampleRates(live config.LiveConfig) (in, out int) {
	caps := a.providers.S2S.Capabilities()
	in, out = live.InputSampleRate, live.OutputSampleRate
	if in <= 0 {
		in = caps.InputSampleRate
	}
	if out <= 0 {
		out = caps.OutputSampleRate
	}
	return in, out
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.server }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and drains the transcript archive until ctx is cancelled,
// then shuts the server down gracefully within cfg.Server.ShutdownTimeout.
// It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	srv := &http.Server{
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
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
		a.health.SetDraining(true)
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Warn("http shutdown incomplete", "err", err)
			_ = srv.Close()
		}
		return nil
	})
	g.Go(func() error { return a.archiver.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	a.log.Info("app running",
		"live", a.providers.S2S != nil,
		"panes", a.assistant != nil,
	)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the subsystems New opened. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
