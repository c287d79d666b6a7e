package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceform/internal/conversation"
	"github.com/MrWong99/voiceform/internal/observe"
	"github.com/MrWong99/voiceform/pkg/audio"
	"github.com/MrWong99/voiceform/pkg/form"
	"github.com/MrWong99/voiceform/pkg/realtime"
	"github.com/MrWong99/voiceform/pkg/store"
)

// errSessionEnded stops both pumps once the sentinel was seen.
var errSessionEnded = errors.New("orchestrator: conversation ended")

// session is the state of one Run call. Nothing in it is shared with other
// sessions.
type session struct {
	o        *Orchestrator
	id       string
	notifier Notifier
	log      *slog.Logger

	machine   *conversation.Machine
	form      *form.Data
	queue     *audio.Queue
	persister *persister

	src    Source
	sink   Sink
	client *realtime.Client

	extractions chan conversation.Pair
	extractDone chan struct{}

	// Event pump only.
	echoes      []string
	transcribed map[string]struct{}
	ended       bool

	teardownOnce sync.Once
}

func newSession(o *Orchestrator, ro runOptions, src Source, sink Sink) *session {
	s := &session{
		o:        o,
		id:       ro.sessionID,
		notifier: ro.notifier,
		log:      slog.With("session_id", ro.sessionID),
		machine: conversation.New(
			conversation.WithSentinel(o.cfg.Sentinel),
			conversation.WithClock(o.now),
		),
		form:        form.New(o.cfg.Schema),
		queue:       audio.NewQueue(o.cfg.QueueLimit),
		persister:   &persister{store: o.store, timeout: o.cfg.PersistTimeout},
		src:         src,
		sink:        sink,
		extractions: make(chan conversation.Pair, extractionBacklog),
		extractDone: make(chan struct{}),
		transcribed: make(map[string]struct{}),
	}
	return s
}

func (s *session) run(ctx context.Context) (res Result, err error) {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, s.id), "orchestrator.Run")
	defer func() { observe.EndSpan(span, err) }()

	m := s.o.metrics
	m.ActiveSessions.Add(ctx, 1)
	defer m.ActiveSessions.Add(ctx, -1)

	go s.extractLoop(ctx)
	defer func() {
		s.teardown(ctx)
		m.RecordSessionResult(ctx, resultLabel(ctx, err, s.ended))
		res = s.result()
	}()

	s.log.Info("session starting", "url", s.o.cfg.Endpoint.URL)
	dialOpts := s.o.clientOpts
	if d := s.o.cfg.IdleTimeout; d > 0 {
		dialOpts = append([]realtime.Option{realtime.WithIdleTimeout(d)}, dialOpts...)
	}
	s.client, err = realtime.Dial(ctx, s.o.cfg.Endpoint, dialOpts...)
	if err != nil {
		s.log.Error("failed to connect to realtime service", "err", err)
		return Result{}, err
	}
	if err = s.client.ConfigureSession(ctx, s.o.cfg.Session); err != nil {
		return Result{}, err
	}
	if msg := s.o.cfg.OpeningMessage; msg != "" {
		s.echoes = append(s.echoes, msg)
		if err = s.apply(ctx, s.machine.UserText(msg)); err != nil {
			return Result{}, err
		}
		if err = s.client.SendUserMessage(ctx, msg); err != nil {
			return Result{}, err
		}
	}
	if s.src != nil {
		if err = s.src.Start(ctx, s.queue); err != nil {
			s.log.Error("failed to start audio source", "err", err)
			return Result{}, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pumpAudio(gctx) })
	g.Go(func() error { return s.pumpEvents(gctx) })
	err = g.Wait()

	switch {
	case errors.Is(err, errSessionEnded):
		s.log.Info("session ended")
		return Result{}, nil
	case ctx.Err() != nil:
		s.log.Info("session cancelled")
		return Result{}, ctx.Err()
	case err != nil:
		s.log.Error("session failed", "err", err)
	}
	return Result{}, err
}

// teardown releases the session's resources and persists its state. It runs
// once no matter how many exit paths reach it.
func (s *session) teardown(ctx context.Context) {
	s.teardownOnce.Do(func() {
		if s.src != nil {
			if err := s.src.Stop(); err != nil {
				s.log.Warn("failed to stop audio source", "err", err)
			}
		}
		s.queue.Close()
		if s.sink != nil {
			if err := s.sink.Close(); err != nil {
				s.log.Warn("failed to close audio sink", "err", err)
			}
		}
		if s.client != nil {
			_ = s.client.Close()
		}
		s.machine.End()

		close(s.extractions)
		<-s.extractDone

		if n := s.queue.Dropped(); n > 0 {
			s.o.metrics.AudioChunksDropped.Add(ctx, int64(n))
		}
		s.persist(ctx)
	})
}

func (s *session) persist(ctx context.Context) {
	wrote, err := s.persister.save(ctx, store.Record{
		SessionID: s.id,
		Form:      s.form,
		Log:       s.machine.Log(),
	})
	switch {
	case err != nil:
		s.log.Error("failed to persist session", "err", err)
	case wrote:
		s.log.Info("session persisted")
	}
}

func (s *session) result() Result {
	return Result{
		SessionID: s.id,
		Ended:     s.ended,
		Log:       s.machine.Log(),
		Form:      s.form,
	}
}

// resultLabel classifies how a session finished for metrics.
func resultLabel(ctx context.Context, err error, ended bool) string {
	switch {
	case ended:
		return "ended"
	case ctx.Err() != nil:
		return "cancelled"
	case realtime.IsConnectionError(err):
		return "connection_lost"
	default:
		return "error"
	}
}

// ── Audio pump ───────────────────────────────────────────────────────────────

// pumpAudio forwards captured chunks in production order.
func (s *session) pumpAudio(ctx context.Context) error {
	cfg := s.o.cfg
	for {
		chunk, err := s.queue.Pop(ctx)
		if errors.Is(err, audio.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		rate := chunk.SampleRate
		if rate <= 0 {
			rate = cfg.InputRate
		}
		pcm := audio.ResamplePCM16(chunk.Data, rate, cfg.TargetRate)
		if len(pcm) == 0 {
			continue
		}

		if audio.Classify(audio.Samples(pcm), cfg.SpeechThreshold) == audio.Speech {
			if itemID, ok := s.machine.SpeechDetected(); ok {
				if err := s.client.TruncateItem(ctx, itemID); err != nil {
					return err
				}
				s.o.metrics.Truncations.Add(ctx, 1)
				s.log.Debug("truncated assistant item", "item_id", itemID)
			}
		}
		if err := s.client.AppendAudio(ctx, pcm); err != nil {
			return err
		}
	}
}

// ── Event pump ───────────────────────────────────────────────────────────────

// pumpEvents dispatches inbound events in receipt order.
func (s *session) pumpEvents(ctx context.Context) error {
	events := s.client.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				if err := s.client.Err(); err != nil {
					return err
				}
				return &realtime.ConnectionError{Op: "read", Err: io.EOF}
			}
			if err := s.dispatch(ctx, evt); err != nil {
				return err
			}
		}
	}
}

func (s *session) dispatch(ctx context.Context, evt realtime.Event) error {
	s.o.metrics.RecordProtocolEvent(ctx, evt.Type.String())

	switch evt.Type {
	case realtime.EventItemCreated:
		switch evt.Role {
		case "assistant":
			return s.apply(ctx, s.machine.AssistantItemCreated(evt.ItemID, evt.Text))
		case "user":
			if s.consumeEcho(evt.Text) {
				return nil
			}
			return s.apply(ctx, s.machine.UserText(evt.Text))
		}

	case realtime.EventUserTranscript:
		return s.apply(ctx, s.machine.UserText(evt.Text))

	case realtime.EventTextDelta:
		if evt.Transcript {
			s.transcribed[evt.ItemID] = struct{}{}
		}
		s.machine.TextDelta(evt.ItemID, evt.Text)

	case realtime.EventTextDone:
		delete(s.transcribed, evt.ItemID)
		return s.apply(ctx, s.machine.AssistantTextDone(evt.ItemID, evt.Text))

	case realtime.EventAudioDelta:
		s.machine.AudioDelta(evt.ItemID, evt.Audio)
		s.play(evt)

	case realtime.EventAudioDone:
		return s.finishAudio(ctx, evt.ItemID)

	case realtime.EventFunctionCall:
		s.log.Info("function call", "name", evt.Name, "call_id", evt.CallID)
		return s.client.SendFunctionOutput(ctx, evt.CallID, callTool(evt.Name, s.o.now()))

	case realtime.EventError, realtime.EventDecodeError:
		s.log.Warn("realtime event error", "type", evt.Type.String(), "err", evt.Err)
	}
	return nil
}

// consumeEcho reports whether text is the server's echo of a user message
// this session sent and already logged.
func (s *session) consumeEcho(text string) bool {
	if len(s.echoes) == 0 || s.echoes[0] != text {
		return false
	}
	s.echoes = s.echoes[1:]
	return true
}

// play forwards assistant audio to the sink unless the user interrupted the
// item it belongs to.
func (s *session) play(evt realtime.Event) {
	if s.sink == nil || len(evt.Audio) == 0 {
		return
	}
	if itemID, truncated := s.machine.InFlight(); truncated && (evt.ItemID == "" || evt.ItemID == itemID) {
		return
	}
	if err := s.sink.Play(evt.Audio, s.o.cfg.TargetRate); err != nil {
		s.log.Warn("failed to play assistant audio", "err", err)
	}
}

// finishAudio completes an assistant item whose audio ended. Items with a
// streamed transcript complete on their text.done instead; otherwise the
// buffered audio is transcribed locally.
func (s *session) finishAudio(ctx context.Context, itemID string) error {
	if _, ok := s.transcribed[itemID]; ok {
		return nil
	}
	pcm, ok := s.machine.PendingAudio(itemID)
	if !ok || s.o.transcriber == nil {
		return s.apply(ctx, s.machine.AssistantAudioDone(itemID, ""))
	}
	text, err := s.o.transcriber.Transcribe(ctx, pcm, s.o.cfg.TargetRate)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("failed to transcribe assistant audio", "item_id", itemID, "err", err)
	}
	return s.apply(ctx, s.machine.AssistantAudioDone(itemID, text))
}

// apply runs the side effects of a state machine outcome.
func (s *session) apply(ctx context.Context, out conversation.Outcome) error {
	if out.Entry != nil {
		s.log.Info("utterance", "role", string(out.Entry.Role), "text", out.Entry.Text)
		s.notify(Update{Entry: out.Entry})
	}
	if out.Extract != nil {
		s.enqueueExtraction(ctx, *out.Extract)
	}
	if out.Ended {
		s.ended = true
		s.persist(ctx)
		s.notify(Update{Ended: true})
		return errSessionEnded
	}
	return nil
}

func (s *session) notify(u Update) {
	if s.notifier == nil {
		return
	}
	u.SessionID = s.id
	s.notifier.Notify(u)
}

// ── Extraction ───────────────────────────────────────────────────────────────

func (s *session) enqueueExtraction(ctx context.Context, p conversation.Pair) {
	if s.o.extractor == nil {
		return
	}
	select {
	case s.extractions <- p:
	case <-ctx.Done():
		s.log.Warn("extraction dropped on shutdown")
	}
}

// extractLoop runs extractions one at a time in the order their pairs
// completed. Runs outlive session cancellation up to ExtractTimeout so that
// teardown persists their results.
func (s *session) extractLoop(ctx context.Context) {
	defer close(s.extractDone)
	base := context.WithoutCancel(ctx)
	for p := range s.extractions {
		runCtx, cancel := context.WithTimeout(base, s.o.cfg.ExtractTimeout)
		fields := s.o.extractor.Extract(runCtx, p.User, p.Assistant)
		cancel()

		updated := s.form.Merge(fields)
		if len(updated) == 0 {
			continue
		}
		changed := make(map[string]string, len(updated))
		for _, f := range updated {
			changed[f] = fields[f]
		}
		s.log.Info("form fields extracted", "fields", updated)
		s.notify(Update{Fields: changed})
	}
}
