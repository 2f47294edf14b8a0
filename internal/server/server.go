// Package server exposes Guru over HTTP.
//
// Routes:
//
//	GET  /live              websocket carrying one live conversation
//	POST /api/search        {"prompt": "..."} → web-grounded answer
//	POST /api/reason        {"prompt": "..."} → answer with extended thinking
//	POST /api/dictate       raw audio body → transcription
//	GET  /api/transcripts   keyword search over archived live turns
//	     /mcp               MCP tools over the transcript archive
//	GET  /healthz, /readyz  liveness and readiness
//	GET  /metrics           Prometheus scrape endpoint
//
// Every route runs behind [observe.Middleware].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/guru/internal/assistant"
	"github.com/MrWong99/guru/internal/bridge"
	"github.com/MrWong99/guru/internal/health"
	"github.com/MrWong99/guru/internal/observe"
	"github.com/MrWong99/guru/internal/resilience"
	"github.com/MrWong99/guru/pkg/audio"
	"github.com/MrWong99/guru/pkg/memory"
	"github.com/MrWong99/guru/pkg/provider/llm"
)

const (
	defaultMaxAudioBytes  = 25 << 20
	maxPromptBytes        = 64 << 10
	defaultTranscriptHits = 20
	maxTranscriptHits     = 200
)

// LiveFactory builds the bridge for one websocket connection. devices talk to
// the connected tab; opts carry the connection's hooks and must be passed on
// to [bridge.New].
type LiveFactory func(devices audio.Devices, opts ...bridge.Option) (*bridge.Bridge, error)

// Config holds HTTP-level limits.
type Config struct {
	// MaxAudioBytes caps a dictation upload. Defaults to 25 MiB.
	MaxAudioBytes int64

	// AllowedOrigins are extra host patterns accepted on the live websocket.
	AllowedOrigins []string

	// MicTimeout bounds the wait for the tab's microphone answer. Zero waits
	// until the connection ends.
	MicTimeout time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLive enables the /live websocket.
func WithLive(f LiveFactory) Option {
	return func(s *Server) { s.live = f }
}

// WithAssistant enables the /api/search, /api/reason and /api/dictate panes.
func WithAssistant(a *assistant.Assistant) Option {
	return func(s *Server) { s.assistant = a }
}

// WithTranscripts enables /api/transcripts over store.
func WithTranscripts(store memory.SessionStore) Option {
	return func(s *Server) { s.transcripts = store }
}

// WithMCP mounts an MCP streamable HTTP handler at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler overrides the /metrics handler. The default serves the
// default Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server routes HTTP requests to the live bridge and the assistant panes.
type Server struct {
	cfg            Config
	log            *slog.Logger
	metrics        *observe.Metrics
	live           LiveFactory
	assistant      *assistant.Assistant
	transcripts    memory.SessionStore
	mcp            http.Handler
	health         *health.Handler
	metricsHandler http.Handler

	handler http.Handler
}

// New builds a Server. Features whose dependency was not supplied are not
// routed.
func New(cfg Config, opts ...Option) *Server {
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = defaultMaxAudioBytes
	}
	s := &Server{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	s.handler = observe.Middleware(s.metrics)(s.routes())
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	if s.live != nil {
		mux.HandleFunc("GET /live", s.handleLive)
	}
	if s.assistant != nil {
		mux.HandleFunc("POST /api/search", s.handlePrompt("search", s.assistant.Search))
		mux.HandleFunc("POST /api/reason", s.handlePrompt("reason", s.assistant.Reason))
		mux.HandleFunc("POST /api/dictate", s.handleDictate)
	}
	if s.transcripts != nil {
		mux.HandleFunc("GET /api/transcripts", s.handleTranscripts)
	}
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", s.metricsHandler)
	return mux
}

// ── JSON helpers ────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// paneStatus maps a pane failure to an HTTP status and a safe message.
func paneStatus(err error) (int, string) {
	switch {
	case errors.Is(err, assistant.ErrEmptyPrompt):
		return http.StatusBadRequest, "prompt is empty"
	case errors.Is(err, assistant.ErrEmptyAudio):
		return http.StatusBadRequest, "audio is empty"
	case errors.Is(err, llm.ErrUnsupported):
		return http.StatusNotImplemented, "the configured model cannot serve this request"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "the model took too long to answer"
	case errors.Is(err, context.Canceled):
		return 499, "request cancelled"
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrAllFailed):
		return http.StatusServiceUnavailable, "the model is temporarily unavailable"
	default:
		return http.StatusBadGateway, "the model request failed"
	}
}
