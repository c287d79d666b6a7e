// Package app wires all voiceform subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the store, the session
// orchestrator, the turn-based pipeline, and the HTTP API from the config;
// Run serves HTTP until the context ends; Shutdown tears everything down in
// order, letting running sessions persist first.
//
// For testing, inject doubles via functional options (WithStore,
// WithClientOptions, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voiceform/internal/config"
	"github.com/MrWong99/voiceform/internal/extract"
	"github.com/MrWong99/voiceform/internal/formfill"
	"github.com/MrWong99/voiceform/internal/health"
	"github.com/MrWong99/voiceform/internal/httpapi"
	"github.com/MrWong99/voiceform/internal/observe"
	"github.com/MrWong99/voiceform/internal/orchestrator"
	"github.com/MrWong99/voiceform/internal/transcript"
	"github.com/MrWong99/voiceform/internal/turn"
	"github.com/MrWong99/voiceform/pkg/form"
	"github.com/MrWong99/voiceform/pkg/provider/llm"
	"github.com/MrWong99/voiceform/pkg/provider/stt"
	"github.com/MrWong99/voiceform/pkg/provider/tts"
	"github.com/MrWong99/voiceform/pkg/realtime"
	"github.com/MrWong99/voiceform/pkg/store"
	"github.com/MrWong99/voiceform/pkg/store/filestore"
	"github.com/MrWong99/voiceform/pkg/store/postgres"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Transcriber
	TTS tts.Synthesizer

	// Names label provider metrics. They default to "unknown".
	Names ProviderNames
}

// ProviderNames are the configured provider names.
type ProviderNames struct {
	LLM, STT, TTS string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store          store.Store
	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler
	localAudio     httpapi.LocalAudio
	clientOpts     []realtime.Option

	orch   atomic.Pointer[orchestrator.Orchestrator]
	turns  *turn.Pipeline
	api    *httpapi.Server
	server *http.Server

	// closers run in order during Shutdown, after the HTTP server stopped.
	closers []func(context.Context) error

	stopOnce sync.Once
}

var _ httpapi.Runner = (*App)(nil)

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLevelVar lets config reloads change the level of the installed logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLocalAudio enables sessions on the host's microphone and speaker.
func WithLocalAudio(open httpapi.LocalAudio) Option {
	return func(a *App) { a.localAudio = open }
}

// WithClientOptions passes options to every realtime connection.
func WithClientOptions(opts ...realtime.Option) Option {
	return func(a *App) { a.clientOpts = append(a.clientOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Session store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Realtime sessions ─────────────────────────────────────────────
	a.orch.Store(a.buildOrchestrator(cfg))

	// ── 3. Turn-based pipeline ───────────────────────────────────────────
	if providers.STT != nil && providers.LLM != nil && providers.TTS != nil {
		n := providers.Names
		a.turns = turn.New(providers.STT, providers.LLM, providers.TTS,
			turn.WithMetrics(a.metrics),
			turn.WithProviderNames(n.STT, n.LLM, n.TTS),
			turn.WithCorrector(correctorOf(cfg)),
		)
	} else {
		slog.Info("turn-based endpoints disabled; they need stt, llm, and tts providers")
	}

	// ── 4. HTTP API ──────────────────────────────────────────────────────
	a.initAPI(cfg)
	return a, nil
}

// initStore opens PostgreSQL when a DSN is configured and the file store
// otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	schema := schemaOf(a.cfg)

	if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn, schema)
		if err != nil {
			return err
		}
		a.store = pg
		a.closers = append(a.closers, func(context.Context) error {
			pg.Close()
			return nil
		})
		slog.Info("session store ready", "backend", "postgres")
		return nil
	}

	fs, err := filestore.New(a.cfg.Store.Dir, schema)
	if err != nil {
		return err
	}
	a.store = fs
	slog.Info("session store ready", "backend", "file", "dir", a.cfg.Store.Dir)
	return nil
}

func (a *App) buildOrchestrator(cfg *config.Config) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithStore(a.store),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithClientOptions(a.clientOpts...),
	}
	if a.providers.LLM != nil {
		opts = append(opts, orchestrator.WithExtractor(
			extract.New(a.providers.LLM, schemaOf(cfg),
				extract.WithMetrics(a.metrics),
				extract.WithCorrector(correctorOf(cfg)),
			),
		))
	}
	if a.providers.STT != nil {
		opts = append(opts, orchestrator.WithTranscriber(a.providers.STT))
	}
	return orchestrator.New(SessionConfig(cfg), opts...)
}

func (a *App) initAPI(cfg *config.Config) {
	checks := []health.Checker{{Name: "store", Check: a.store.Ping}}

	apiOpts := []httpapi.Option{
		httpapi.WithRunner(a),
		httpapi.WithMetrics(a.metrics),
		httpapi.WithHealth(health.New(checks...)),
		httpapi.WithFiller(formfill.NewFDF(cfg.Form.Template, formfill.WithSchema(schemaOf(cfg)))),
		httpapi.WithOutputPath(cfg.Form.Output),
		httpapi.WithInputRate(cfg.Realtime.InputRate),
	}
	if a.turns != nil {
		apiOpts = append(apiOpts, httpapi.WithTurnPipeline(a.turns))
	}
	if a.localAudio != nil {
		apiOpts = append(apiOpts, httpapi.WithLocalAudio(a.localAudio))
	}
	if a.metricsHandler != nil && cfg.Observability.MetricsEnabled() {
		apiOpts = append(apiOpts, httpapi.WithMetricsHandler(a.metricsHandler))
	}
	a.api = httpapi.New(a.store, apiOpts...)
	a.closers = append([]func(context.Context) error{a.api.Close}, a.closers...)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// Run implements [httpapi.Runner] with the orchestrator of the current
// config. Sessions already running keep the settings they started with.
func (a *App) Run(ctx context.Context, src orchestrator.Source, sink orchestrator.Sink, opts ...orchestrator.RunOption) (orchestrator.Result, error) {
	return a.orch.Load().Run(ctx, src, sink, opts...)
}

// Config returns the session settings new sessions start with.
func (a *App) Config() orchestrator.Config {
	return a.orch.Load().Config()
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Store returns the session store.
func (a *App) Store() store.Store { return a.store }

// ApplyConfig applies a reloaded config. Log level, session, and form
// changes take effect for new sessions; everything else is reported as
// needing a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged || d.FormChanged {
		a.orch.Store(a.buildOrchestrator(new))
		if a.turns != nil {
			a.turns.SetCorrector(correctorOf(new))
		}
		slog.Info("session settings reloaded", "session", d.SessionChanged, "form", d.FormChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "settings", d.RestartRequired)
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Serve listens on the configured address and serves the HTTP API until ctx
// is cancelled or the server fails. It returns ctx.Err() on cancellation.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()
	slog.Info("http server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops the HTTP server, waits for running sessions to persist, and
// closes the store. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SessionConfig maps the realtime and form sections of cfg onto the
// orchestrator's settings.
func SessionConfig(cfg *config.Config) orchestrator.Config {
	rt := cfg.Realtime

	session := orchestrator.DefaultSessionOptions()
	session.Voice = rt.Voice
	if rt.Instructions != "" {
		session.Instructions = rt.Instructions
	}
	session.TranscriptionModel = rt.TranscriptionModel
	if session.TurnDetection != nil && rt.VAD != (config.VADConfig{}) {
		td := *session.TurnDetection
		td.Threshold = rt.VAD.Threshold
		td.PrefixPaddingMs = rt.VAD.PrefixPaddingMs
		td.SilenceDurationMs = rt.VAD.SilenceDurationMs
		session.TurnDetection = &td
	}

	opening := rt.OpeningMessage
	switch opening {
	case "":
		opening = orchestrator.DefaultOpeningMessage
	case "-":
		opening = ""
	}

	return orchestrator.Config{
		Endpoint: realtime.Endpoint{
			URL:    rt.RealtimeURL(),
			APIKey: rt.APIKey,
			Auth:   realtime.AuthStyle(rt.Auth),
		},
		Session:         session,
		OpeningMessage:  opening,
		InputRate:       rt.InputRate,
		TargetRate:      rt.TargetRate,
		SpeechThreshold: rt.SpeechThreshold,
		QueueLimit:      rt.QueueLimit,
		Sentinel:        cfg.Form.Sentinel,
		Schema:          schemaOf(cfg),
		IdleTimeout:     rt.IdleTimeout,
	}
}

func schemaOf(cfg *config.Config) form.Schema {
	if len(cfg.Form.Fields) == 0 {
		return form.DefaultSchema
	}
	return form.Schema(cfg.Form.Fields)
}

// correctorOf returns nil when no vocabulary is configured.
func correctorOf(cfg *config.Config) *transcript.Corrector {
	if len(cfg.Form.Vocabulary) == 0 {
		return nil
	}
	return transcript.New(cfg.Form.Vocabulary)
}
