// Package orchestrator runs voice form-filling sessions against the realtime
// dialogue service.
//
// An [Orchestrator] holds the configuration and collaborators shared by every
// session. Each call to [Orchestrator.Run] builds a fresh session (state
// machine, form data, audio queue) and drives it with two concurrent pumps:
//
//   - the audio pump pops captured chunks, resamples them to the service rate,
//     truncates the in-flight assistant item when the user starts speaking,
//     and appends the audio to the remote input buffer;
//   - the event pump dispatches inbound protocol events to the state machine
//     in receipt order, plays assistant audio, and schedules field
//     extraction.
//
// Both pumps stop together when the conversation ends, the connection is
// lost, or the caller cancels. Teardown runs exactly once and always persists
// the transcript and form data.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voiceform/internal/observe"
	"github.com/MrWong99/voiceform/pkg/audio"
	"github.com/MrWong99/voiceform/pkg/form"
	"github.com/MrWong99/voiceform/pkg/provider/stt"
	"github.com/MrWong99/voiceform/pkg/realtime"
	"github.com/MrWong99/voiceform/pkg/store"
	"github.com/MrWong99/voiceform/pkg/types"
)

const (
	// DefaultTargetRate is the PCM16 sample rate the realtime service expects
	// and produces.
	DefaultTargetRate = 24000

	defaultIdleTimeout    = 60 * time.Second
	defaultExtractTimeout = 30 * time.Second
	defaultPersistTimeout = 10 * time.Second
	extractionBacklog     = 32
)

// ── Collaborators ────────────────────────────────────────────────────────────

// Source produces captured user audio. Start must not block: it pushes
// chunks into q from its own goroutine or callback until Stop is called.
type Source interface {
	Start(ctx context.Context, q *audio.Queue) error
	Stop() error
}

// Sink plays assistant audio.
type Sink interface {
	Play(pcm []byte, sampleRate int) error
	Close() error
}

// Extractor pulls form fields out of one user/assistant exchange. It never
// fails; a failed run yields an empty map.
type Extractor interface {
	Extract(ctx context.Context, user, assistant string) map[string]string
}

// Update is a progress notification for one session.
type Update struct {
	SessionID string

	// Entry is a newly logged utterance.
	Entry *types.TranscriptEntry

	// Fields holds the form fields changed by an extraction run.
	Fields map[string]string

	// Ended is set once when the conversation reached its sentinel.
	Ended bool
}

// Notifier receives session updates. Notify is called from the session's
// pumps and must not block for long.
type Notifier interface {
	Notify(Update)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(Update)

// Notify calls f(u).
func (f NotifierFunc) Notify(u Update) { f(u) }

// ── Configuration ────────────────────────────────────────────────────────────

// Config holds the per-deployment session settings.
type Config struct {
	// Endpoint is the realtime deployment to dial for every session.
	Endpoint realtime.Endpoint

	// Session is sent as session.update right after dialling. The zero value
	// selects [DefaultSessionOptions].
	Session realtime.SessionOptions

	// OpeningMessage is sent as the first user message. Empty disables it.
	OpeningMessage string

	// InputRate is assumed for chunks that carry no sample rate.
	InputRate int

	// TargetRate is the sample rate of audio exchanged with the service.
	TargetRate int

	// SpeechThreshold is the RMS level above which a chunk counts as speech.
	SpeechThreshold float64

	// QueueLimit caps the pending audio chunks per session. Zero means
	// unbounded; when capped the oldest chunk is dropped.
	QueueLimit int

	// Sentinel overrides the end-of-conversation phrase.
	Sentinel string

	// Schema is the form field list. Empty selects [form.DefaultSchema].
	Schema form.Schema

	// IdleTimeout ends the session with a connection error when the service
	// sends nothing for this long. Negative disables it.
	IdleTimeout time.Duration

	// ExtractTimeout bounds one extraction run.
	ExtractTimeout time.Duration

	// PersistTimeout bounds one store write.
	PersistTimeout time.Duration
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Session.Instructions == "" && len(c.Session.Modalities) == 0 {
		voice := c.Session.Voice
		c.Session = DefaultSessionOptions()
		c.Session.Voice = voice
	}
	if c.InputRate <= 0 {
		c.InputRate = 16000
	}
	if c.TargetRate <= 0 {
		c.TargetRate = DefaultTargetRate
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = audio.DefaultSpeechThreshold
	}
	if len(c.Schema) == 0 {
		c.Schema = form.DefaultSchema
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = defaultExtractTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = defaultPersistTimeout
	}
	return c
}

// ── Orchestrator ─────────────────────────────────────────────────────────────

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithStore sets where sessions are persisted. Without a store nothing is
// saved.
func WithStore(s store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithExtractor sets the field extraction agent. Without one, form data stays
// empty.
func WithExtractor(e Extractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithTranscriber sets the collaborator that transcribes assistant audio that
// arrived without a transcript.
func WithTranscriber(t stt.Transcriber) Option {
	return func(o *Orchestrator) { o.transcriber = t }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClientOptions passes options to every [realtime.Dial].
func WithClientOptions(opts ...realtime.Option) Option {
	return func(o *Orchestrator) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithClock sets the time source for transcript timestamps and the
// current-time tool.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator starts sessions. It is safe for concurrent use; sessions
// share no mutable state.
type Orchestrator struct {
	cfg         Config
	store       store.Store
	extractor   Extractor
	transcriber stt.Transcriber
	metrics     *observe.Metrics
	clientOpts  []realtime.Option
	now         func() time.Time
}

// New returns an Orchestrator for cfg.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg.withDefaults(),
		metrics: observe.DefaultMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// RunOption configures a single [Orchestrator.Run] call.
type RunOption func(*runOptions)

type runOptions struct {
	sessionID string
	notifier  Notifier
}

// WithSessionID sets the session id. By default a random UUID is used.
func WithSessionID(id string) RunOption {
	return func(r *runOptions) { r.sessionID = id }
}

// WithNotifier registers a receiver for session updates.
func WithNotifier(n Notifier) RunOption {
	return func(r *runOptions) { r.notifier = n }
}

// Result is the final state of a session.
type Result struct {
	SessionID string

	// Ended reports whether the conversation reached its sentinel.
	Ended bool

	Log  []types.TranscriptEntry
	Form *form.Data
}

// Run drives one session until the conversation ends, the connection is lost,
// or ctx is cancelled. src supplies user audio; sink may be nil when
// assistant audio is not played.
//
// The returned error is nil when the conversation reached its sentinel, a
// [*realtime.ConnectionError] when the service could not be reached or the
// connection dropped, and ctx.Err() on cancellation. The Result is valid in
// every case and has been persisted.
func (o *Orchestrator) Run(ctx context.Context, src Source, sink Sink, opts ...RunOption) (Result, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.sessionID == "" {
		ro.sessionID = uuid.NewString()
	}
	s := newSession(o, ro, src, sink)
	return s.run(ctx)
}
