// Package httpapi is the HTTP boundary of voiceform.
//
// It exposes the realtime form-filling session (driven by the local
// microphone or streamed from a browser over WebSocket), the gathered form
// data, the filled document, and the turn-based upload and streaming
// assistants. Routes are served by a chi router behind the observe
// middleware.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/voiceform/internal/formfill"
	"github.com/MrWong99/voiceform/internal/health"
	"github.com/MrWong99/voiceform/internal/observe"
	"github.com/MrWong99/voiceform/internal/orchestrator"
	"github.com/MrWong99/voiceform/internal/turn"
	"github.com/MrWong99/voiceform/pkg/store"
)

// DefaultOutputPath is where the filled document is written on confirmation.
const DefaultOutputPath = "output_filled.fdf"

// maxUploadBytes caps /upload-audio bodies.
const maxUploadBytes = 32 << 20

// Runner starts realtime sessions. [*orchestrator.Orchestrator] implements it.
type Runner interface {
	Run(ctx context.Context, src orchestrator.Source, sink orchestrator.Sink, opts ...orchestrator.RunOption) (orchestrator.Result, error)
}

// LocalAudio opens the host's microphone and speaker for one session.
type LocalAudio func() (orchestrator.Source, orchestrator.Sink, error)

// Option configures a [Server].
type Option func(*Server)

// WithRunner enables the realtime session endpoints.
func WithRunner(r Runner) Option {
	return func(s *Server) { s.runner = r }
}

// WithLocalAudio enables POST /sessions, which runs a session on the host's
// audio devices.
func WithLocalAudio(open LocalAudio) Option {
	return func(s *Server) { s.localAudio = open }
}

// WithTurnPipeline enables /upload-audio and /transcribe/stream.
func WithTurnPipeline(p *turn.Pipeline) Option {
	return func(s *Server) { s.turns = p }
}

// WithFiller sets the document writer used by /confirm.
func WithFiller(f formfill.Filler) Option {
	return func(s *Server) { s.filler = f }
}

// WithOutputPath sets where /confirm writes the filled document.
func WithOutputPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.output = path
		}
	}
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithInputRate sets the sample rate assumed for streamed audio that does
// not announce one.
func WithInputRate(rate int) Option {
	return func(s *Server) {
		if rate > 0 {
			s.inputRate = rate
		}
	}
}

// Server serves the HTTP API. Sessions started through it run on a context
// owned by the server and are cancelled by [Server.Close].
type Server struct {
	store          store.Store
	runner         Runner
	localAudio     LocalAudio
	turns          *turn.Pipeline
	filler         formfill.Filler
	output         string
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	inputRate      int

	// fileMu serialises writes and reads of the output document.
	fileMu sync.RWMutex

	// localBusy is set while a microphone session runs; the host has one
	// microphone.
	localBusy atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a Server reading form data from st.
func New(st store.Store, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:     st,
		filler:    formfill.NewFDF(""),
		output:    DefaultOutputPath,
		metrics:   observe.DefaultMetrics(),
		inputRate: turn.DefaultStreamRate,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	if s.health != nil {
		s.health.Register(r)
	}
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Post("/sessions", s.handleStartLocal)
	r.Get("/sessions/stream", s.handleSessionStream)
	r.Get("/sessions/{id}", s.handleGetSession)

	r.Get("/form-data", s.handleFormData)
	r.Post("/confirm", s.handleConfirm)
	r.Get("/download", s.handleDownload)

	r.Post("/upload-audio", s.handleUploadAudio)
	r.Get("/transcribe/stream", s.handleTranscribeStream)
	return r
}

// Close cancels running sessions and waits for them to persist, or for ctx
// to expire.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Form data ────────────────────────────────────────────────────────────────

// handleFormData returns the set fields of the most recent session.
func (s *Server) handleFormData(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Latest(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{})
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("failed to load latest session", "err", err)
		respondError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec.Form.Filled())
}

type confirmRequest struct {
	Confirmed bool `json:"confirmed"`
}

type confirmResponse struct {
	Status      string `json:"status"`
	DownloadURL string `json:"download_url,omitempty"`
}

// handleConfirm writes the filled document when the user confirmed the data.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !req.Confirmed {
		respondJSON(w, http.StatusOK, confirmResponse{Status: "cancelled"})
		return
	}

	rec, err := s.store.Latest(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no_form_data", "no session has been recorded yet")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}

	if err := s.writeDocument(r.Context(), rec.Form.Filled()); err != nil {
		observe.Logger(r.Context()).Error("failed to write filled document", "path", s.output, "err", err)
		respondError(w, http.StatusInternalServerError, "fill_failed", err.Error())
		return
	}
	observe.Logger(r.Context()).Info("form document written", "session_id", rec.SessionID, "path", s.output)
	respondJSON(w, http.StatusOK, confirmResponse{Status: "filled", DownloadURL: "/download"})
}

// writeDocument fills the output document via a temporary file so readers
// never see a partial write.
func (s *Server) writeDocument(ctx context.Context, values map[string]string) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	dir := filepath.Dir(s.output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".filled-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := s.filler.Fill(ctx, tmp, values); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.output)
}

// handleDownload serves the last filled document.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.fileMu.RLock()
	defer s.fileMu.RUnlock()

	f, err := os.Open(s.output)
	if errors.Is(err, os.ErrNotExist) {
		respondError(w, http.StatusNotFound, "not_filled", "no document has been filled yet")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", s.filler.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+s.filler.FileName()+`"`)
	http.ServeContent(w, r, s.filler.FileName(), info.ModTime(), f)
}

// ── helpers ──────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return io.EOF
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
