package app_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/guru/internal/app"
	"github.com/MrWong99/guru/internal/config"
	"github.com/MrWong99/guru/internal/observe"
	audiomock "github.com/MrWong99/guru/pkg/audio/mock"
	memorymock "github.com/MrWong99/guru/pkg/memory/mock"
	"github.com/MrWong99/guru/pkg/provider/llm"
	llmmock "github.com/MrWong99/guru/pkg/provider/llm/mock"
	"github.com/MrWong99/guru/pkg/provider/s2s"
	s2smock "github.com/MrWong99/guru/pkg/provider/s2s/mock"
)

// testConfig returns a minimal config with a named live persona.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr:      "127.0.0.1:0",
			LogLevel:        config.LogInfo,
			ShutdownTimeout: time.Second,
		},
		Live: config.LiveConfig{
			Voice:    "Kore",
			WakeName: "Guru",
			Aliases:  []string{"Gurú"},
			Persona:  "You are {wake_name}.",
		},
	}
}

// testProviders returns mock live and pane providers.
func testProviders() *app.Providers {
	return &app.Providers{
		S2S: &s2smock.Provider{ProviderCapabilities: s2s.Capabilities{
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
		}},
		S2SName: "mock",
		LLM:     &llmmock.Provider{Response: &llm.Response{Text: "42"}},
		LLMName: "mock",
	}
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts = append([]app.Option{
		app.WithSessionStore(&memorymock.SessionStore{}),
		app.WithMetrics(m),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func TestNew_RoutesConfiguredFeatures(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"prompt":"meaning of life"}`))
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"42"`) {
		t.Errorf("search body = %s, want the model answer", rec.Body)
	}

	for _, path := range []string{"/healthz", "/readyz", "/api/transcripts"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestNew_NoProviders(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/live"},
		{http.MethodPost, "/api/search"},
		{http.MethodPost, "/api/dictate"},
	} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
	if _, err := a.NewBridge(audiomock.NewDevices()); !errors.Is(err, app.ErrNoLiveProvider) {
		t.Errorf("NewBridge err = %v, want ErrNoLiveProvider", err)
	}
}

func TestNewBridge_FromLiveConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Live.BlockSize = 320
	cfg.Live.TranscriptLines = 10
	a := newApp(t, cfg, testProviders())

	br, err := a.NewBridge(audiomock.NewDevices())
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	got := br.Config()
	if got.Instructions != "You are Guru." {
		t.Errorf("Instructions = %q", got.Instructions)
	}
	if got.AssistantName != "Guru" || got.Voice != "Kore" {
		t.Errorf("AssistantName/Voice = %q/%q", got.AssistantName, got.Voice)
	}
	if got.BlockSize != 320 || got.TranscriptLines != 10 {
		t.Errorf("BlockSize/TranscriptLines = %d/%d", got.BlockSize, got.TranscriptLines)
	}
}

func TestNewBridge_SampleRates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		in, out         int
		wantIn, wantOut int
	}{
		{name: "provider rates", wantIn: 16000, wantOut: 24000},
		{name: "configured rates win", in: 8000, out: 48000, wantIn: 8000, wantOut: 48000},
		{name: "mixed", out: 22050, wantIn: 16000, wantOut: 22050},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Live.InputSampleRate = tt.in
			cfg.Live.OutputSampleRate = tt.out
			a := newApp(t, cfg, testProviders())

			br, err := a.NewBridge(audiomock.NewDevices())
			if err != nil {
				t.Fatalf("NewBridge: %v", err)
			}
			got := br.Config()
			if got.InputSampleRate != tt.wantIn || got.OutputSampleRate != tt.wantOut {
				t.Errorf("rates = %d/%d, want %d/%d",
					got.InputSampleRate, got.OutputSampleRate, tt.wantIn, tt.wantOut)
			}
		})
	}
}

func TestNewBridge_FollowsConfigSource(t *testing.T) {
	t.Parallel()

	first := testConfig()
	current := first
	a := newApp(t, first, testProviders(), app.WithConfigSource(func() *config.Config { return current }))

	br, err := a.NewBridge(audiomock.NewDevices())
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	if got := br.Config().AssistantName; got != "Guru" {
		t.Fatalf("AssistantName = %q, want Guru", got)
	}

	next := testConfig()
	next.Live.WakeName = "Oma"
	next.Live.Voice = "Puck"
	current = next

	br, err = a.NewBridge(audiomock.NewDevices())
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	got := br.Config()
	if got.AssistantName != "Oma" || got.Voice != "Puck" || got.Instructions != "You are Oma." {
		t.Errorf("config after reload = %+v", got)
	}
}

func TestNewBridge_DefaultAssistantName(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Live.WakeName = ""
	cfg.Live.Aliases = nil
	a := newApp(t, cfg, testProviders())

	br, err := a.NewBridge(audiomock.NewDevices())
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	if got := br.Config().AssistantName; got != "Assistant" {
		t.Errorf("AssistantName = %q, want Assistant", got)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a := newApp(t, testConfig(), testProviders(), app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}
