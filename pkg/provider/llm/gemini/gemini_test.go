package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/guru/pkg/provider/llm"
	"github.com/MrWong99/guru/pkg/provider/llm/gemini"
)

// fakeAPI answers every generateContent call with resp and records the last
// request body and path.
type fakeAPI struct {
	resp map[string]any

	mu       sync.Mutex
	lastPath string
	lastBody map[string]any
}

func (f *fakeAPI) last() (string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPath, f.lastBody
}

func (f *fakeAPI) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lastPath = r.URL.Path
		_ = json.Unmarshal(body, &f.lastBody)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, srv *httptest.Server) *gemini.Provider {
	t.Helper()
	p, err := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL), gemini.WithModel("default-model"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := gemini.New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestGenerate_SearchGrounding(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{resp: map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": "It is sunny."}}},
			"groundingMetadata": map[string]any{
				"groundingChunks": []any{
					map[string]any{"web": map[string]any{"title": "Weather", "uri": "https://weather.example"}},
					map[string]any{"web": map[string]any{"title": "No URI"}},
				},
			},
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 5, "candidatesTokenCount": 4, "totalTokenCount": 9},
	}}
	srv := api.start(t)
	p := newProvider(t, srv)

	resp, err := p.Generate(context.Background(), llm.Request{
		Model:  "gemini-3-flash-preview",
		Parts:  []llm.Part{{Text: "weather in Berlin?"}},
		Search: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "It is sunny." {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].URI != "https://weather.example" {
		t.Errorf("Citations = %+v", resp.Citations)
	}
	if resp.Usage.TotalTokens != 9 {
		t.Errorf("TotalTokens = %d, want 9", resp.Usage.TotalTokens)
	}
	path, body := api.last()
	if !strings.Contains(path, "gemini-3-flash-preview:generateContent") {
		t.Errorf("path = %q", path)
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v, want one google search tool", body["tools"])
	}
	if _, ok := tools[0].(map[string]any)["googleSearch"]; !ok {
		t.Errorf("tool = %v, want googleSearch", tools[0])
	}
}

func TestGenerate_ThinkingSplitsThoughts(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{resp: map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{
				map[string]any{"text": "Consider the premises.", "thought": true},
				map[string]any{"text": "The answer is 42."},
			}},
		}},
	}}
	srv := api.start(t)
	p := newProvider(t, srv)

	resp, err := p.Generate(context.Background(), llm.Request{
		Parts:          []llm.Part{{Text: "meaning of life"}},
		ThinkingBudget: 32768,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "The answer is 42." || resp.Thinking != "Consider the premises." {
		t.Errorf("resp = %+v", resp)
	}
	path, body := api.last()
	if !strings.Contains(path, "default-model:generateContent") {
		t.Errorf("path = %q, want default model", path)
	}
	gc, _ := body["generationConfig"].(map[string]any)
	tc, _ := gc["thinkingConfig"].(map[string]any)
	if tc == nil || tc["thinkingBudget"] != float64(32768) || tc["includeThoughts"] != true {
		t.Errorf("thinkingConfig = %v", gc["thinkingConfig"])
	}
}

func TestGenerate_InlineAudio(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{resp: map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": "Hallo Welt."}}},
		}},
	}}
	srv := api.start(t)
	p := newProvider(t, srv)

	audioBytes := []byte{0x1a, 0x45, 0xdf, 0xa3}
	resp, err := p.Generate(context.Background(), llm.Request{
		Parts: []llm.Part{
			{Data: audioBytes, MIMEType: "audio/webm"},
			{Text: "Transcribe the audio accurately."},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "Hallo Welt." {
		t.Errorf("Text = %q", resp.Text)
	}

	_, body := api.last()
	contents, _ := body["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("contents = %v", body["contents"])
	}
	parts, _ := contents[0].(map[string]any)["parts"].([]any)
	if len(parts) != 2 {
		t.Fatalf("parts = %v", parts)
	}
	inline, _ := parts[0].(map[string]any)["inlineData"].(map[string]any)
	if inline["mimeType"] != "audio/webm" || inline["data"] != base64.StdEncoding.EncodeToString(audioBytes) {
		t.Errorf("inlineData = %v", inline)
	}
}

func TestGenerate_NoParts(t *testing.T) {
	t.Parallel()
	srv := (&fakeAPI{resp: map[string]any{}}).start(t)
	p := newProvider(t, srv)
	if _, err := p.Generate(context.Background(), llm.Request{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}
