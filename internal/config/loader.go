package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"s2s": {"gemini-live", "openai-realtime"},
}

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultWakeName        = "Guru"
	DefaultVoice           = "Kore"
	DefaultBlockSize       = 4096
	DefaultSendQueue       = 32
	DefaultTranscriptLines = 50
	DefaultMicTimeout      = 30 * time.Second
	DefaultSearchModel     = "gemini-3-flash-preview"
	DefaultReasonModel     = "gemini-3-pro-preview"
	DefaultDictateModel    = "gemini-3-flash-preview"
	DefaultThinkingBudget  = 32768
	DefaultDictationMIME   = "audio/webm"
	DefaultMaxAudioBytes   = 25 << 20
	DefaultRequestTimeout  = 2 * time.Minute
	DefaultArchiveQueue    = 64
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and API keys
// from the environment, and validates the result. An empty document is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued setting that has a default.
// Sample rates are left alone; zero means "use the provider's rate".
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)

	setDefault(&cfg.Providers.S2S.Name, "gemini-live")
	setDefault(&cfg.Providers.LLM.Name, "gemini")

	setDefault(&cfg.Live.WakeName, DefaultWakeName)
	setDefault(&cfg.Live.Voice, DefaultVoice)
	setDefault(&cfg.Live.Persona, DefaultPersona)
	setDefault(&cfg.Live.BlockSize, DefaultBlockSize)
	setDefault(&cfg.Live.SendQueue, DefaultSendQueue)
	setDefault(&cfg.Live.TranscriptLines, DefaultTranscriptLines)
	setDefault(&cfg.Live.MicTimeout, DefaultMicTimeout)

	setDefault(&cfg.Assistant.SearchModel, DefaultSearchModel)
	setDefault(&cfg.Assistant.ReasonModel, DefaultReasonModel)
	setDefault(&cfg.Assistant.DictateModel, DefaultDictateModel)
	setDefault(&cfg.Assistant.ThinkingBudget, DefaultThinkingBudget)
	setDefault(&cfg.Assistant.DictationMIME, DefaultDictationMIME)
	setDefault(&cfg.Assistant.MaxAudioBytes, DefaultMaxAudioBytes)
	setDefault(&cfg.Assistant.RequestTimeout, DefaultRequestTimeout)

	setDefault(&cfg.Memory.ArchiveQueue, DefaultArchiveQueue)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.S2S.Name == "" {
		errs = append(errs, errors.New("providers.s2s.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}

	// Live
	if cfg.Live.WakeName == "" {
		errs = append(errs, errors.New("live.wake_name is required"))
	}
	if cfg.Live.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("live.input_sample_rate %d must not be negative", cfg.Live.InputSampleRate))
	}
	if cfg.Live.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("live.output_sample_rate %d must not be negative", cfg.Live.OutputSampleRate))
	}
	if cfg.Live.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("live.block_size %d must be positive", cfg.Live.BlockSize))
	}
	if cfg.Live.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("live.send_queue %d must be positive", cfg.Live.SendQueue))
	}
	if cfg.Live.TranscriptLines <= 0 {
		errs = append(errs, fmt.Errorf("live.transcript_lines %d must be positive", cfg.Live.TranscriptLines))
	}
	if cfg.Live.DecodeFailureLimit < 0 {
		errs = append(errs, fmt.Errorf("live.decode_failure_limit %d must not be negative", cfg.Live.DecodeFailureLimit))
	}

	// Assistant
	if cfg.Assistant.ThinkingBudget < 0 {
		errs = append(errs, fmt.Errorf("assistant.thinking_budget %d must not be negative", cfg.Assistant.ThinkingBudget))
	}
	if cfg.Assistant.MaxAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_audio_bytes %d must not be negative", cfg.Assistant.MaxAudioBytes))
	}
	if cfg.Assistant.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("assistant.request_timeout %s must not be negative", cfg.Assistant.RequestTimeout))
	}

	// Memory
	if cfg.Memory.ArchiveQueue < 0 {
		errs = append(errs, fmt.Errorf("memory.archive_queue %d must not be negative", cfg.Memory.ArchiveQueue))
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Debug("memory.postgres_dsn is empty; transcripts are archived in process memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning when name is non-empty and not in the
// known list for kind. Unknown names are not a hard error: a custom provider
// may be registered at runtime.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if !slices.Contains(known, name) {
		slog.Warn("unknown provider name; it must be registered before use",
			"kind", kind, "name", name, "known", known)
	}
}
