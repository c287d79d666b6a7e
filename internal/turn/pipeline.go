// Package turn implements the turn-based voice pipeline used by the browser
// upload and streaming endpoints: transcribe the user's audio, ask the chat
// model for a reply, and synthesize that reply.
//
// Unlike the realtime orchestrator it keeps no connection open between
// turns. Each turn is independent and its failures only skip that turn.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voiceform/internal/observe"
	"github.com/MrWong99/voiceform/internal/transcript"
	"github.com/MrWong99/voiceform/pkg/provider/llm"
	"github.com/MrWong99/voiceform/pkg/provider/stt"
	"github.com/MrWong99/voiceform/pkg/provider/tts"
	"github.com/MrWong99/voiceform/pkg/types"
)

// SystemPrompt steers the chat model in turn-based mode.
const SystemPrompt = "You are an AI assistant helping fill out a merchant processing form. Keep your responses concise and formal."

const defaultTemperature = 0.4

var (
	// ErrTranscription wraps failures of the transcription collaborator.
	ErrTranscription = errors.New("turn: transcription failed")

	// ErrCompletion wraps failures of the chat model.
	ErrCompletion = errors.New("turn: completion failed")

	// ErrSynthesis wraps failures of the speech synthesizer.
	ErrSynthesis = errors.New("turn: synthesis failed")

	// ErrNoSpeech is returned when the audio transcribes to nothing.
	ErrNoSpeech = errors.New("turn: no speech recognised")
)

// Reply is the result of one turn.
type Reply struct {
	// Transcript is what the user said.
	Transcript string

	// Text is the assistant's reply.
	Text string

	// Audio is the synthesized reply (WAV).
	Audio []byte
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSystemPrompt overrides [SystemPrompt].
func WithSystemPrompt(p string) Option {
	return func(pl *Pipeline) {
		if p != "" {
			pl.systemPrompt = p
		}
	}
}

// WithTemperature overrides the chat temperature.
func WithTemperature(t float64) Option {
	return func(pl *Pipeline) { pl.temperature = t }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) {
		if m != nil {
			pl.metrics = m
		}
	}
}

// WithProviderNames sets the provider labels used on request metrics.
func WithProviderNames(stt, llm, tts string) Option {
	return func(pl *Pipeline) { pl.names = [3]string{stt, llm, tts} }
}

// WithCorrector corrects transcripts toward a known vocabulary.
func WithCorrector(c *transcript.Corrector) Option {
	return func(pl *Pipeline) { pl.corrector.Store(c) }
}

// Pipeline runs transcribe → complete → synthesize. It is safe for
// concurrent use.
type Pipeline struct {
	stt stt.Transcriber
	llm llm.Provider
	tts tts.Synthesizer

	corrector atomic.Pointer[transcript.Corrector]

	systemPrompt string
	temperature  float64
	metrics      *observe.Metrics
	names        [3]string
}

// New returns a Pipeline over the three collaborators.
func New(transcriber stt.Transcriber, provider llm.Provider, synth tts.Synthesizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:          transcriber,
		llm:          provider,
		tts:          synth,
		systemPrompt: SystemPrompt,
		temperature:  defaultTemperature,
		metrics:      observe.DefaultMetrics(),
		names:        [3]string{"stt", "llm", "tts"},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Reply transcribes pcm (PCM16 mono at sampleRate), answers it, and
// synthesizes the answer. Errors wrap [ErrTranscription], [ErrNoSpeech],
// [ErrCompletion], or [ErrSynthesis].
func (p *Pipeline) Reply(ctx context.Context, pcm []byte, sampleRate int) (Reply, error) {
	ctx, span := observe.StartSpan(ctx, "turn.Reply")
	var err error
	defer func() { observe.EndSpan(span, err) }()

	var transcript string
	transcript, err = p.Transcribe(ctx, pcm, sampleRate)
	if err != nil {
		return Reply{}, err
	}
	var r Reply
	r, err = p.Respond(ctx, transcript)
	return r, err
}

// Transcribe runs the transcription step alone.
func (p *Pipeline) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	start := time.Now()
	text, err := p.stt.Transcribe(ctx, pcm, sampleRate)
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	p.record(ctx, 0, "stt", err)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	text, fixes := p.corrector.Load().Correct(text)
	for _, f := range fixes {
		observe.Logger(ctx).Debug("turn: corrected transcript", "from", f.Original, "to", f.Corrected, "confidence", f.Confidence)
	}
	return text, nil
}

// SetCorrector replaces the transcript corrector. A nil corrector disables
// correction.
func (p *Pipeline) SetCorrector(c *transcript.Corrector) {
	p.corrector.Store(c)
}

// Respond answers transcript and synthesizes the answer.
func (p *Pipeline) Respond(ctx context.Context, transcript string) (Reply, error) {
	r := Reply{Transcript: transcript}

	start := time.Now()
	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.systemPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: transcript}},
		Temperature:  p.temperature,
	})
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = errors.New("empty response")
	}
	p.record(ctx, 1, "llm", err)
	if err != nil {
		return r, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	r.Text = strings.TrimSpace(resp.Content)

	start = time.Now()
	r.Audio, err = p.tts.Synthesize(ctx, r.Text)
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	p.record(ctx, 2, "tts", err)
	if err != nil {
		return r, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	return r, nil
}

func (p *Pipeline) record(ctx context.Context, idx int, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, p.names[idx], kind)
	}
	p.metrics.RecordProviderRequest(ctx, p.names[idx], kind, status)
}
