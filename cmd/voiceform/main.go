// Command voiceform is the entry point of the voice form-filling assistant.
//
// By default it serves the HTTP API. With -mic it runs a single realtime
// session on the host's microphone and speaker and prints the gathered form
// data when the conversation ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voiceform/internal/app"
	"github.com/MrWong99/voiceform/internal/config"
	"github.com/MrWong99/voiceform/internal/observe"
	"github.com/MrWong99/voiceform/internal/orchestrator"
	"github.com/MrWong99/voiceform/internal/resilience"
	"github.com/MrWong99/voiceform/pkg/audio/device"
	"github.com/MrWong99/voiceform/pkg/provider/llm"
	"github.com/MrWong99/voiceform/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voiceform/pkg/provider/llm/openai"
	"github.com/MrWong99/voiceform/pkg/provider/stt"
	"github.com/MrWong99/voiceform/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/voiceform/pkg/provider/stt/openai"
	"github.com/MrWong99/voiceform/pkg/provider/stt/whisper"
	"github.com/MrWong99/voiceform/pkg/provider/tts"
	"github.com/MrWong99/voiceform/pkg/provider/tts/coqui"
	"github.com/MrWong99/voiceform/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/voiceform/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mic := flag.Bool("mic", false, "run one session on the host microphone and exit")
	localAudio := flag.Bool("local-audio", true, "allow POST /sessions to use the host microphone and speaker")
	watch := flag.Bool("watch", true, "reload session settings when the config file changes or on SIGHUP")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceform: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceform: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("voiceform starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Observability.ServiceName,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders(providers)

	// ── Audio devices ─────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLevelVar(level),
		app.WithMetricsHandler(tel.Handler()),
	}
	if *mic || *localAudio {
		terminate, err := device.Init()
		switch {
		case err != nil && *mic:
			slog.Error("audio devices unavailable", "err", err)
			return 1
		case err != nil:
			slog.Warn("local audio sessions disabled", "err", err)
		default:
			defer terminate()
			opts = append(opts, app.WithLocalAudio(func() (orchestrator.Source, orchestrator.Sink, error) {
				return openDevices(cfg)
			}))
		}
	}

	printStartupSummary(cfg, *mic)

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *mic {
		code := runLocal(ctx, application, cfg)
		shutdown(application)
		return code
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() { _ = w.Run(ctx) }()
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						w.Reload()
					}
				}
			}()
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Serve(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("serve error", "err", runErr)
	} else {
		slog.Info("shutdown signal received, stopping")
	}

	if err := shutdown(application); err != nil {
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func shutdown(application *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
		return err
	}
	return nil
}

// ── Local session ─────────────────────────────────────────────────────────────

func openDevices(cfg *config.Config) (orchestrator.Source, orchestrator.Sink, error) {
	mic := device.NewMicrophone(cfg.Realtime.InputRate, device.DefaultFramesPerBuffer)
	spk := device.NewSpeaker(cfg.Realtime.OutputRate)
	if err := spk.Open(); err != nil {
		return nil, nil, err
	}
	return mic, spk, nil
}

// runLocal runs one session on the host devices until the assistant ends the
// conversation or the process is interrupted.
func runLocal(ctx context.Context, application *app.App, cfg *config.Config) int {
	src, sink, err := openDevices(cfg)
	if err != nil {
		slog.Error("failed to open audio devices", "err", err)
		return 1
	}

	slog.Info("listening; speak to the assistant or press Ctrl+C to stop")
	res, err := application.Run(ctx, src, sink)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session failed", "session_id", res.SessionID, "err", err)
		return 1
	}

	fmt.Printf("\nSession %s (%d transcript entries)\n", res.SessionID, len(res.Log))
	if res.Form != nil {
		for _, field := range res.Form.Schema() {
			if v, ok := res.Form.Get(field); ok {
				fmt.Printf("  %-28s %s\n", field, v)
			}
		}
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the Chat Completions API directly so base_url can point
	// at any compatible server, including Azure deployments.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends share one pattern: optional APIKey + optional
	// BaseURL through any-llm.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n, ok := entry.Options["threads"].(int); ok {
			opts = append(opts, whisper.WithNativeThreads(n))
		}
		if n, ok := entry.Options["concurrency"].(int); ok {
			opts = append(opts, whisper.WithNativeConcurrency(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kws := optStrings(entry.Options, "keywords"); len(kws) > 0 {
			opts = append(opts, deepgram.WithKeywords(kws...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if speed, ok := entry.Options["speed"].(float64); ok {
			opts = append(opts, oatts.WithSpeed(speed))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// coqui is a local server addressed by BaseURL.
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if rate, ok := entry.Options["output_sample_rate"].(int); ok {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Every slot is wrapped in a circuit breaker and fails over to its configured
// fallbacks in order.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	breaker := resilience.BreakerConfig{
		MaxFailures: cfg.Providers.CircuitBreaker.MaxFailures,
		Cooldown:    cfg.Providers.CircuitBreaker.Cooldown,
	}
	ps := &app.Providers{
		Names: app.ProviderNames{
			LLM: cfg.Providers.LLM.Name,
			STT: cfg.Providers.STT.Name,
			TTS: cfg.Providers.TTS.Name,
		},
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		primary, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		p := resilience.NewLLM(primary, entry.Name, breaker)
		for _, fb := range entry.Fallbacks {
			f, err := reg.CreateLLM(fb)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			p.Add(fb.Name, f)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "chain", p.Names())
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		primary, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		p := resilience.NewTranscriber(primary, entry.Name, breaker)
		for _, fb := range entry.Fallbacks {
			f, err := reg.CreateSTT(fb)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
			}
			p.Add(fb.Name, f)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "chain", p.Names())
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		primary, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		p := resilience.NewSynthesizer(primary, entry.Name, breaker)
		for _, fb := range entry.Fallbacks {
			f, err := reg.CreateTTS(fb)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
			}
			p.Add(fb.Name, f)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "chain", p.Names())
	}

	return ps, nil
}

// closeProviders releases providers that hold native resources, such as the
// whisper.cpp model.
func closeProviders(ps *app.Providers) {
	for _, p := range []any{ps.LLM, ps.STT, ps.TTS} {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mic bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voiceform startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printRow("Realtime", cfg.Realtime.Voice)
	printRow("Form fields", fmt.Sprint(len(app.SessionConfig(cfg).Schema)))
	if cfg.Store.PostgresDSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", cfg.Store.Dir)
	}
	if mic {
		printRow("Mode", "microphone")
	} else {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if value == "" {
		value = "(default)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings extracts a list of strings from a provider Options map. YAML
// decodes sequences as []any, so non-string items are skipped.
func optStrings(opts map[string]any, key string) []string {
	items, _ := opts[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
