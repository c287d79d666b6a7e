// Package config provides the configuration schema, loader, watcher, and
// provider registry for voiceform.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
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

// Level converts l to an [slog.Level]. Unknown or empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AuthStyle selects how the realtime API key is sent.
type AuthStyle string

const (
	// AuthBearer is the OpenAI style Authorization header.
	AuthBearer AuthStyle = "bearer"

	// AuthAPIKey is the Azure OpenAI style api-key header.
	AuthAPIKey AuthStyle = "api-key"
)

// IsValid reports whether a is a recognised auth style.
func (a AuthStyle) IsValid() bool {
	return a == AuthBearer || a == AuthAPIKey
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Form          FormConfig          `yaml:"form"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied again when the file changes.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RealtimeConfig describes the realtime dialogue deployment and the local
// audio handling around it.
type RealtimeConfig struct {
	// URL is the full wss:// endpoint. When empty it is built from Host,
	// Deployment, and APIVersion in the Azure OpenAI layout.
	URL        string    `yaml:"url"`
	Host       string    `yaml:"host"`
	Deployment string    `yaml:"deployment"`
	APIVersion string    `yaml:"api_version"`
	APIKey     string    `yaml:"api_key"`
	Auth       AuthStyle `yaml:"auth"`

	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`

	// OpeningMessage is sent as the first user message. Set to "-" to
	// disable it.
	OpeningMessage string `yaml:"opening_message"`

	// TranscriptionModel asks the service to transcribe user speech.
	TranscriptionModel string `yaml:"transcription_model"`

	VAD VADConfig `yaml:"vad"`

	IdleTimeout time.Duration `yaml:"idle_timeout"`

	InputRate       int     `yaml:"input_rate"`
	TargetRate      int     `yaml:"target_rate"`
	OutputRate      int     `yaml:"output_rate"`
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// QueueLimit caps pending microphone chunks. Zero means unbounded.
	QueueLimit int `yaml:"queue_limit"`
}

// VADConfig configures the service-side turn detection.
type VADConfig struct {
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// ProvidersConfig declares which provider implementation to use for each
// collaborator. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// LLM serves field extraction and turn-based replies.
	LLM ProviderEntry `yaml:"llm"`

	// STT transcribes uploaded audio and assistant audio without transcript.
	STT ProviderEntry `yaml:"stt"`

	// TTS speaks turn-based replies.
	TTS ProviderEntry `yaml:"tts"`

	// CircuitBreaker tunes the breaker guarding every provider above and its
	// fallbacks.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes provider circuit breakers. Zero values select
// the defaults of the resilience package.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that open a breaker.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long an open breaker rejects calls before probing.
	Cooldown time.Duration `yaml:"cooldown"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// FormConfig describes the form being filled.
type FormConfig struct {
	// Fields overrides the built-in merchant application field list.
	Fields []string `yaml:"fields"`

	// Vocabulary lists names callers are expected to say, such as business
	// names and cities. Transcripts are corrected toward their spelling
	// before extraction.
	Vocabulary []string `yaml:"vocabulary"`

	// Sentinel overrides the end-of-conversation phrase.
	Sentinel string `yaml:"sentinel"`

	// Template is the blank PDF the filled document refers to.
	Template string `yaml:"template"`

	// Output is where the filled document is written on confirmation.
	Output string `yaml:"output"`
}

// StoreConfig selects where sessions are persisted. PostgresDSN takes
// precedence over Dir.
type StoreConfig struct {
	Dir         string `yaml:"dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ObservabilityConfig configures metrics export.
type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name"`

	// Metrics enables the Prometheus /metrics endpoint. Defaults to true.
	Metrics *bool `yaml:"metrics"`

	// TraceSampleRatio is the fraction of new traces recorded. Zero records
	// every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// MetricsEnabled reports whether the /metrics endpoint is served.
func (o ObservabilityConfig) MetricsEnabled() bool {
	return o.Metrics == nil || *o.Metrics
}
