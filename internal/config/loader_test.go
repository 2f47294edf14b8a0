package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/guru/internal/config"
)

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"GEMINI_API_KEY":    "gm-env",
		"OPENAI_API_KEY":    "oa-env",
		"ANTHROPIC_API_KEY": "ant-env",
	}
	getenv := func(k string) string { return env[k] }

	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			S2S: config.ProviderEntry{Name: "gemini-live"},
			LLM: config.ProviderEntry{Name: "openai", APIKey: "from-yaml"},
			Fallbacks: []config.ProviderEntry{
				{Name: "anthropic"},
				{Name: "ollama"},
			},
		},
	}
	config.ApplyEnv(cfg, getenv)

	if got := cfg.Providers.S2S.APIKey; got != "gm-env" {
		t.Errorf("s2s key: got %q, want gm-env", got)
	}
	if got := cfg.Providers.LLM.APIKey; got != "from-yaml" {
		t.Errorf("explicit key overwritten: got %q", got)
	}
	if got := cfg.Providers.Fallbacks[0].APIKey; got != "ant-env" {
		t.Errorf("fallback key: got %q, want ant-env", got)
	}
	if got := cfg.Providers.Fallbacks[1].APIKey; got != "" {
		t.Errorf("ollama needs no key, got %q", got)
	}
}

func TestApplyEnv_GoogleKeyFallback(t *testing.T) {
	t.Parallel()
	getenv := func(k string) string {
		if k == "GOOGLE_API_KEY" {
			return "google"
		}
		return ""
	}
	cfg := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "gemini"}}}
	config.ApplyEnv(cfg, getenv)
	if cfg.Providers.LLM.APIKey != "google" {
		t.Errorf("got %q, want google", cfg.Providers.LLM.APIKey)
	}
}

func TestAPIKeyEnv(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want string
	}{
		{"gemini", "GEMINI_API_KEY"},
		{"Gemini-Live", "GEMINI_API_KEY"},
		{"openai-realtime", "OPENAI_API_KEY"},
		{"groq", "GROQ_API_KEY"},
		{"llamacpp", ""},
	}
	for _, tt := range tests {
		if got := config.APIKeyEnv(tt.name); got != tt.want {
			t.Errorf("APIKeyEnv(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// LoadDotEnv mutates the process environment, so this test is not parallel.
func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("GURU_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GURU_TEST_DOTENV", "")
	os.Unsetenv("GURU_TEST_DOTENV")

	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("GURU_TEST_DOTENV"); got != "loaded" {
		t.Errorf("GURU_TEST_DOTENV = %q, want loaded", got)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("GURU_TEST_DOTENV_KEEP=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GURU_TEST_DOTENV_KEEP", "process")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("GURU_TEST_DOTENV_KEEP"); got != "process" {
		t.Errorf("GURU_TEST_DOTENV_KEEP = %q, want process", got)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if !slices.Contains(config.ValidProviderNames["s2s"], "gemini-live") {
		t.Error("s2s names should include gemini-live")
	}
	if !slices.Contains(config.ValidProviderNames["llm"], "anthropic") {
		t.Error("llm names should include anthropic")
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	example, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	defaults, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	sections := map[string][2]any{
		"server":    {example.Server, defaults.Server},
		"live":      {example.Live, defaults.Live},
		"assistant": {example.Assistant, defaults.Assistant},
		"memory":    {example.Memory, defaults.Memory},
	}
	for name, pair := range sections {
		if !reflect.DeepEqual(pair[0], pair[1]) {
			t.Errorf("%s differs from defaults:\n example  %+v\n defaults %+v", name, pair[0], pair[1])
		}
	}
	if example.Providers.S2S.Name != defaults.Providers.S2S.Name || example.Providers.LLM.Name != defaults.Providers.LLM.Name {
		t.Errorf("providers = %s/%s, want %s/%s", example.Providers.S2S.Name, example.Providers.LLM.Name,
			defaults.Providers.S2S.Name, defaults.Providers.LLM.Name)
	}
	if example.Providers.LLM.Model != config.DefaultSearchModel {
		t.Errorf("llm model = %q, want %q", example.Providers.LLM.Model, config.DefaultSearchModel)
	}
}
