package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is set when the realtime session settings changed.
	// Sessions started after the reload use the new values.
	SessionChanged bool

	// FormChanged is set when the field list, vocabulary, sentinel, or
	// document paths changed.
	FormChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionChanged || d.FormChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Realtime, new.Realtime
	if o.Voice != n.Voice ||
		o.Instructions != n.Instructions ||
		o.OpeningMessage != n.OpeningMessage ||
		o.TranscriptionModel != n.TranscriptionModel ||
		o.VAD != n.VAD ||
		o.IdleTimeout != n.IdleTimeout ||
		o.SpeechThreshold != n.SpeechThreshold ||
		o.QueueLimit != n.QueueLimit ||
		o.RealtimeURL() != n.RealtimeURL() ||
		o.APIKey != n.APIKey ||
		o.Auth != n.Auth {
		d.SessionChanged = true
	}

	if !slices.Equal(old.Form.Fields, new.Form.Fields) ||
		!slices.Equal(old.Form.Vocabulary, new.Form.Vocabulary) ||
		old.Form.Sentinel != new.Form.Sentinel ||
		old.Form.Template != new.Form.Template ||
		old.Form.Output != new.Form.Output {
		d.FormChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if !sameEntry(old.Providers.LLM, new.Providers.LLM) {
		d.RestartRequired = append(d.RestartRequired, "providers.llm")
	}
	if !sameEntry(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if !sameEntry(old.Providers.TTS, new.Providers.TTS) {
		d.RestartRequired = append(d.RestartRequired, "providers.tts")
	}
	if old.Providers.CircuitBreaker != new.Providers.CircuitBreaker {
		d.RestartRequired = append(d.RestartRequired, "providers.circuit_breaker")
	}
	if !reflect.DeepEqual(old.Observability, new.Observability) {
		d.RestartRequired = append(d.RestartRequired, "observability")
	}
	if o.InputRate != n.InputRate || o.TargetRate != n.TargetRate || o.OutputRate != n.OutputRate {
		d.RestartRequired = append(d.RestartRequired, "realtime rates")
	}

	return d
}

func sameEntry(a, b ProviderEntry) bool {
	return reflect.DeepEqual(a, b)
}
