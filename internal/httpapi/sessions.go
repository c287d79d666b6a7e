package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrWong99/voiceform/internal/observe"
	"github.com/MrWong99/voiceform/internal/orchestrator"
	"github.com/MrWong99/voiceform/pkg/audio"
	"github.com/MrWong99/voiceform/pkg/store"
	"github.com/MrWong99/voiceform/pkg/types"
)

const (
	// readLimit caps one inbound WebSocket message.
	readLimit = 1 << 20

	writeTimeout = 10 * time.Second
)

// ── Local microphone sessions ───────────────────────────────────────────────

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// handleStartLocal starts a session on the host's audio devices in the
// background and returns its id. Only one such session runs at a time.
func (s *Server) handleStartLocal(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil || s.localAudio == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "local audio sessions are not enabled")
		return
	}
	if !s.localBusy.CompareAndSwap(false, true) {
		respondError(w, http.StatusConflict, "busy", "a local session is already running")
		return
	}

	src, sink, err := s.localAudio()
	if err != nil {
		s.localBusy.Store(false)
		observe.Logger(r.Context()).Error("failed to open audio devices", "err", err)
		respondError(w, http.StatusInternalServerError, "audio_unavailable", err.Error())
		return
	}

	id := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.localBusy.Store(false)
		res, err := s.runner.Run(s.baseCtx, src, sink, orchestrator.WithSessionID(id))
		logResult(res, err)
	}()

	respondJSON(w, http.StatusAccepted, startResponse{SessionID: id, Status: "started"})
}

type sessionResponse struct {
	SessionID string                  `json:"session_id"`
	UpdatedAt time.Time               `json:"updated_at"`
	Form      map[string]string       `json:"form"`
	Log       []types.TranscriptEntry `json:"log"`
}

// handleGetSession returns a persisted session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Load(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}
	log := rec.Log
	if log == nil {
		log = []types.TranscriptEntry{}
	}
	respondJSON(w, http.StatusOK, sessionResponse{
		SessionID: rec.SessionID,
		UpdatedAt: rec.UpdatedAt,
		Form:      rec.Form.Filled(),
		Log:       log,
	})
}

func logResult(res orchestrator.Result, err error) {
	attrs := []any{"session_id", res.SessionID, "ended", res.Ended, "entries", len(res.Log)}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("session finished with error", append(attrs, "err", err)...)
		return
	}
	slog.Info("session finished", attrs...)
}

// ── Browser-streamed sessions ───────────────────────────────────────────────

// Frames sent to the browser. Assistant audio goes out as binary frames of
// PCM16 mono at the rate announced in the session frame.
type streamFrame struct {
	Type       string            `json:"type"`
	SessionID  string            `json:"session_id,omitempty"`
	SampleRate int               `json:"sample_rate,omitempty"`
	Role       types.Role        `json:"role,omitempty"`
	Text       string            `json:"text,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Ended      bool              `json:"ended,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type controlFrame struct {
	Type string `json:"type"`
}

// handleSessionStream runs a session whose microphone is the browser. The
// client sends PCM16 mono as binary frames (rate from the "rate" query
// parameter) and may send {"type":"stop"} to end early.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "realtime sessions are not enabled")
		return
	}
	rate := s.inputRate
	if v := r.URL.Query().Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_rate", "rate must be a positive integer")
			return
		}
		rate = n
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	s.wg.Add(1)
	defer s.wg.Done()

	// Server shutdown or client disconnect both end the session.
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	id := uuid.NewString()
	peer := &wsPeer{conn: conn, rate: rate, cancel: cancel}
	hctx, hcancel := context.WithTimeout(ctx, writeTimeout)
	peer.send(hctx, streamFrame{Type: "session", SessionID: id, SampleRate: s.targetRate()})
	hcancel()

	res, runErr := s.runner.Run(ctx, peer, peer,
		orchestrator.WithSessionID(id),
		orchestrator.WithNotifier(peer),
	)
	logResult(res, runErr)

	final := streamFrame{Type: "result", SessionID: id, Ended: res.Ended}
	if res.Form != nil {
		final.Fields = res.Form.Filled()
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		final.Error = runErr.Error()
	}
	wctx, wcancel := context.WithTimeout(context.Background(), writeTimeout)
	defer wcancel()
	peer.send(wctx, final)
	conn.Close(websocket.StatusNormalClosure, "session finished")
}

func (s *Server) targetRate() int {
	if o, ok := s.runner.(interface{ Config() orchestrator.Config }); ok {
		return o.Config().TargetRate
	}
	return orchestrator.DefaultTargetRate
}

// wsPeer adapts one browser connection to the orchestrator's Source, Sink,
// and Notifier.
type wsPeer struct {
	conn   *websocket.Conn
	rate   int
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	closed  bool
}

var (
	_ orchestrator.Source   = (*wsPeer)(nil)
	_ orchestrator.Sink     = (*wsPeer)(nil)
	_ orchestrator.Notifier = (*wsPeer)(nil)
)

// Start reads client frames into q until the client goes away. Reads are not
// bound to ctx: cancelling a read closes the connection, and the final result
// frame still has to go out after the session stops.
func (p *wsPeer) Start(_ context.Context, q *audio.Queue) error {
	go func() {
		// Losing the client ends the session.
		defer p.cancel()
		for {
			typ, data, err := p.conn.Read(context.Background())
			if err != nil {
				return
			}
			switch typ {
			case websocket.MessageBinary:
				if p.isStopped() {
					continue
				}
				q.Push(audio.Chunk{Data: data, SampleRate: p.rate})
			case websocket.MessageText:
				var c controlFrame
				if json.Unmarshal(data, &c) == nil && c.Type == "stop" {
					return
				}
			}
		}
	}()
	return nil
}

// Stop drops further audio. The read loop ends when the handler closes the
// connection.
func (p *wsPeer) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	return nil
}

func (p *wsPeer) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Play sends assistant audio as a binary frame.
func (p *wsPeer) Play(pcm []byte, _ int) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return p.conn.Write(ctx, websocket.MessageBinary, pcm)
}

// Close stops playback. The connection itself is closed by the handler.
func (p *wsPeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Notify forwards session progress as JSON text frames.
func (p *wsPeer) Notify(u orchestrator.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	switch {
	case u.Entry != nil:
		p.send(ctx, streamFrame{Type: "transcript", Role: u.Entry.Role, Text: u.Entry.Text})
	case len(u.Fields) > 0:
		p.send(ctx, streamFrame{Type: "fields", Fields: u.Fields})
	case u.Ended:
		p.send(ctx, streamFrame{Type: "ended", Ended: true})
	}
}

func (p *wsPeer) send(ctx context.Context, f streamFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := p.conn.Write(ctx, websocket.MessageText, b); err != nil {
		slog.Debug("failed to send stream frame", "type", f.Type, "err", err)
	}
}
