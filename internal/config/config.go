package config

import (
	"strings"
	"time"
)

// LogLevel controls log verbosity for the Guru server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DefaultPersona is the live persona prompt used when live.persona is empty.
// Every occurrence of [WakeNamePlaceholder] is replaced with the wake name.
const DefaultPersona = `You are a warm, helpful neighbor or family member named {wake_name}. ` +
	`Speak with a friendly, colloquial tone. ` +
	`Use the user's native language and local idioms where appropriate. ` +
	`Make the conversation feel cozy and personal. ` +
	`If the user calls your name "{wake_name}", respond enthusiastically.`

// WakeNamePlaceholder is substituted with [LiveConfig.WakeName] in persona text.
const WakeNamePlaceholder = "{wake_name}"

// Config is the root configuration structure for Guru.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Live      LiveConfig      `yaml:"live"`
	Assistant AssistantConfig `yaml:"assistant"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// ServerConfig holds network and logging settings for the Guru server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns (e.g. "app.example.com",
	// "*.example.com") allowed to open the live websocket from another
	// origin. Same-origin requests are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the hosted model backends. Each entry names a
// provider registered in the [Registry].
type ProvidersConfig struct {
	// S2S is the realtime speech-to-speech backend used by the live bridge.
	S2S ProviderEntry `yaml:"s2s"`

	// LLM is the primary backend for the search, reason and dictate panes.
	LLM ProviderEntry `yaml:"llm"`

	// Fallbacks are tried in order when the primary LLM fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "openai-realtime").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty it
	// is taken from the provider's usual environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// LiveConfig configures the realtime voice bridge.
type LiveConfig struct {
	// Model overrides the S2S provider's model for live sessions.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name (e.g., "Kore").
	Voice string `yaml:"voice"`

	// WakeName is the assistant's name. It labels assistant transcript lines
	// and is what the user calls out to address it.
	WakeName string `yaml:"wake_name"`

	// Aliases are extra spellings or scripts that also count as the wake name.
	Aliases []string `yaml:"aliases"`

	// Persona is the system prompt for live sessions. [WakeNamePlaceholder]
	// is replaced by WakeName. Defaults to [DefaultPersona].
	Persona string `yaml:"persona"`

	// InputSampleRate is the capture rate in Hz. Zero uses the provider's rate.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the playback rate in Hz. Zero uses the provider's rate.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// BlockSize is the number of samples per outbound frame.
	BlockSize int `yaml:"block_size"`

	// SendQueue is the capacity of the outbound frame queue.
	SendQueue int `yaml:"send_queue"`

	// TranscriptLines caps the transcript log.
	TranscriptLines int `yaml:"transcript_lines"`

	// DecodeFailureLimit ends a session after this many consecutive inbound
	// audio decode failures. Zero drops bad chunks forever.
	DecodeFailureLimit int `yaml:"decode_failure_limit"`

	// MicTimeout bounds how long the browser may take to answer a
	// microphone request.
	MicTimeout time.Duration `yaml:"mic_timeout"`
}

// PersonaText returns the persona prompt with the wake name filled in.
func (l LiveConfig) PersonaText() string {
	p := l.Persona
	if p == "" {
		p = DefaultPersona
	}
	return strings.ReplaceAll(p, WakeNamePlaceholder, l.WakeName)
}

// WakeNames returns the wake name followed by its aliases.
func (l LiveConfig) WakeNames() []string {
	names := make([]string, 0, 1+len(l.Aliases))
	if l.WakeName != "" {
		names = append(names, l.WakeName)
	}
	for _, a := range l.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			names = append(names, a)
		}
	}
	return names
}

// AssistantConfig configures the one-shot search, reason and dictate panes.
type AssistantConfig struct {
	SearchModel  string `yaml:"search_model"`
	ReasonModel  string `yaml:"reason_model"`
	DictateModel string `yaml:"dictate_model"`

	// ThinkingBudget is the reasoning token budget for the reason pane.
	ThinkingBudget int `yaml:"thinking_budget"`

	// DictationMIME is assumed for dictation uploads without a Content-Type.
	DictationMIME string `yaml:"dictation_mime"`

	// MaxAudioBytes caps dictation uploads.
	MaxAudioBytes int64 `yaml:"max_audio_bytes"`

	// RequestTimeout bounds a single pane request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MemoryConfig configures the optional transcript archive.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string. When empty, finished
	// turns are kept in process memory only.
	PostgresDSN string `yaml:"postgres_dsn"`

	// ArchiveQueue is the capacity of the per-session archive buffer.
	ArchiveQueue int `yaml:"archive_queue"`
}
