package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// apiKeyEnv maps provider names to the environment variable holding their key.
var apiKeyEnv = map[string]string{
	"gemini":          "GEMINI_API_KEY",
	"gemini-live":     "GEMINI_API_KEY",
	"openai":          "OPENAI_API_KEY",
	"openai-realtime": "OPENAI_API_KEY",
	"anthropic":       "ANTHROPIC_API_KEY",
	"deepseek":        "DEEPSEEK_API_KEY",
	"mistral":         "MISTRAL_API_KEY",
	"groq":            "GROQ_API_KEY",
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no paths, ".env" in the working directory is used.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
	}
	return nil
}

// APIKeyEnv returns the environment variable consulted for provider name, or
// "" when there is none.
func APIKeyEnv(name string) string {
	return apiKeyEnv[strings.ToLower(name)]
}

// ApplyEnv fills empty provider API keys from the environment using getenv.
// Gemini keys also fall back to GOOGLE_API_KEY.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	fill := func(e *ProviderEntry) {
		if e.APIKey != "" || e.Name == "" {
			return
		}
		if v := APIKeyEnv(e.Name); v != "" {
			e.APIKey = getenv(v)
		}
		if e.APIKey == "" && strings.HasPrefix(strings.ToLower(e.Name), "gemini") {
			e.APIKey = getenv("GOOGLE_API_KEY")
		}
	}
	fill(&cfg.Providers.S2S)
	fill(&cfg.Providers.LLM)
	for i := range cfg.Providers.Fallbacks {
		fill(&cfg.Providers.Fallbacks[i])
	}
}
