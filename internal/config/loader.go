package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
	"tts": {"openai", "elevenlabs", "coqui"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":8000"
	DefaultAPIVersion   = "2024-10-01-preview"
	DefaultInputRate    = 16000
	DefaultTargetRate   = 24000
	DefaultOutputRate   = 48000
	DefaultIdleTimeout  = 60 * time.Second
	DefaultStoreDir     = "data"
	DefaultFormTemplate = "form_template.pdf"
	DefaultFormOutput   = "output_filled.fdf"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment, applies defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return LoadFromBytes(raw)
}

// LoadFromBytes is [LoadFromReader] over an in-memory document.
func LoadFromBytes(raw []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	rt := &cfg.Realtime
	if rt.Auth == "" {
		if rt.URL == "" && rt.Host != "" {
			rt.Auth = AuthAPIKey
		} else {
			rt.Auth = AuthBearer
		}
	}
	if rt.APIVersion == "" {
		rt.APIVersion = DefaultAPIVersion
	}
	if rt.IdleTimeout == 0 {
		rt.IdleTimeout = DefaultIdleTimeout
	}
	if rt.InputRate == 0 {
		rt.InputRate = DefaultInputRate
	}
	if rt.TargetRate == 0 {
		rt.TargetRate = DefaultTargetRate
	}
	if rt.OutputRate == 0 {
		rt.OutputRate = DefaultOutputRate
	}
	if rt.SpeechThreshold == 0 {
		rt.SpeechThreshold = 200
	}
	if rt.VAD == (VADConfig{}) {
		rt.VAD = VADConfig{Threshold: 0.5, PrefixPaddingMs: 300, SilenceDurationMs: 500}
	}

	if cfg.Form.Template == "" {
		cfg.Form.Template = DefaultFormTemplate
	}
	if cfg.Form.Output == "" {
		cfg.Form.Output = DefaultFormOutput
	}
	if cfg.Store.Dir == "" && cfg.Store.PostgresDSN == "" {
		cfg.Store.Dir = DefaultStoreDir
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "voiceform"
	}
}

// RealtimeURL returns the WebSocket URL of the realtime deployment.
func (rt RealtimeConfig) RealtimeURL() string {
	if rt.URL != "" {
		return rt.URL
	}
	if rt.Host == "" {
		return ""
	}
	q := url.Values{}
	q.Set("api-version", rt.APIVersion)
	q.Set("deployment", rt.Deployment)
	u := url.URL{Scheme: "wss", Host: rt.Host, Path: "/openai/realtime", RawQuery: q.Encode()}
	return u.String()
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Realtime
	rt := cfg.Realtime
	if rt.URL == "" && rt.Host == "" {
		errs = append(errs, errors.New("realtime.url or realtime.host is required"))
	}
	if rt.URL == "" && rt.Host != "" && rt.Deployment == "" {
		errs = append(errs, errors.New("realtime.deployment is required when realtime.host is set"))
	}
	if rt.URL != "" {
		if u, err := url.Parse(rt.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("realtime.url %q must be a ws:// or wss:// URL", rt.URL))
		}
	}
	if rt.Auth != "" && !rt.Auth.IsValid() {
		errs = append(errs, fmt.Errorf("realtime.auth %q is invalid; valid values: bearer, api-key", rt.Auth))
	}
	if rt.APIKey == "" {
		slog.Warn("realtime.api_key is empty; the realtime service will likely reject the connection")
	}
	for name, rate := range map[string]int{
		"input_rate": rt.InputRate, "target_rate": rt.TargetRate, "output_rate": rt.OutputRate,
	} {
		if rate < 0 {
			errs = append(errs, fmt.Errorf("realtime.%s %d must be positive", name, rate))
		}
	}
	if rt.SpeechThreshold < 0 {
		errs = append(errs, fmt.Errorf("realtime.speech_threshold %.1f must not be negative", rt.SpeechThreshold))
	}
	if rt.QueueLimit < 0 {
		errs = append(errs, fmt.Errorf("realtime.queue_limit %d must not be negative", rt.QueueLimit))
	}
	if rt.VAD.Threshold < 0 || rt.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("realtime.vad.threshold %.2f is out of range [0, 1]", rt.VAD.Threshold))
	}

	// Providers
	for kind, entry := range map[string]ProviderEntry{
		"llm": cfg.Providers.LLM, "stt": cfg.Providers.STT, "tts": cfg.Providers.TTS,
	} {
		validateProviderName(kind, entry.Name)
		if len(entry.Fallbacks) > 0 && entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks requires providers.%s.name", kind, kind))
		}
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
	}
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.Cooldown < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; form fields will not be extracted")
	}

	// Form
	seen := make(map[string]int, len(cfg.Form.Fields))
	for i, f := range cfg.Form.Fields {
		if f == "" {
			errs = append(errs, fmt.Errorf("form.fields[%d] is empty", i))
			continue
		}
		if prev, ok := seen[f]; ok {
			errs = append(errs, fmt.Errorf("form.fields[%d] %q is a duplicate of form.fields[%d]", i, f, prev))
		}
		seen[f] = i
	}

	// Observability
	if r := cfg.Observability.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
