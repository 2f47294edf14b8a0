package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they take effect
// for live sessions started after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PersonaChanged  bool
	VoiceChanged    bool
	WakeNameChanged bool // name or aliases

	// RestartRequired lists changed settings that only apply after a restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.VoiceChanged || d.WakeNameChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.PersonaChanged = old.Live.Persona != new.Live.Persona
	d.VoiceChanged = old.Live.Voice != new.Live.Voice
	d.WakeNameChanged = old.Live.WakeName != new.Live.WakeName ||
		!slices.Equal(old.Live.Aliases, new.Live.Aliases)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providerEqual(old.Providers.S2S, new.Providers.S2S) {
		d.RestartRequired = append(d.RestartRequired, "providers.s2s")
	}
	if !providerEqual(old.Providers.LLM, new.Providers.LLM) ||
		!slices.EqualFunc(old.Providers.Fallbacks, new.Providers.Fallbacks, providerEqual) {
		d.RestartRequired = append(d.RestartRequired, "providers.llm")
	}
	if old.Memory.PostgresDSN != new.Memory.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "memory.postgres_dsn")
	}

	return d
}

// providerEqual compares the scalar fields of two entries; Options are ignored.
func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
