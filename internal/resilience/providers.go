package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voiceform/pkg/provider/llm"
	"github.com/MrWong99/voiceform/pkg/provider/stt"
	"github.com/MrWong99/voiceform/pkg/provider/tts"
)

var (
	_ llm.Provider    = (*LLM)(nil)
	_ stt.Transcriber = (*Transcriber)(nil)
	_ tts.Synthesizer = (*Synthesizer)(nil)
)

// ignoring adds ignore to the errors cfg already ignores.
func ignoring(cfg BreakerConfig, ignore func(error) bool) BreakerConfig {
	prev := cfg.Ignore
	cfg.Ignore = func(err error) bool {
		return ignore(err) || (prev != nil && prev(err))
	}
	return cfg
}

// ── LLM ──────────────────────────────────────────────────────────────────────

// LLM is an [llm.Provider] failing over across several backends.
type LLM struct {
	*Group[llm.Provider]
}

// NewLLM returns an LLM with primary as its first backend.
func NewLLM(primary llm.Provider, name string, cfg BreakerConfig) *LLM {
	g := NewGroup[llm.Provider](cfg)
	g.Add(name, primary)
	return &LLM{g}
}

// Complete implements [llm.Provider].
func (l *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(l.Group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// ── STT ──────────────────────────────────────────────────────────────────────

// Transcriber is an [stt.Transcriber] failing over across several backends.
// Empty audio is rejected without touching the breakers.
type Transcriber struct {
	*Group[stt.Transcriber]
}

// NewTranscriber returns a Transcriber with primary as its first backend.
func NewTranscriber(primary stt.Transcriber, name string, cfg BreakerConfig) *Transcriber {
	g := NewGroup[stt.Transcriber](ignoring(cfg, func(err error) bool {
		return errors.Is(err, stt.ErrNoAudio)
	}))
	g.Add(name, primary)
	return &Transcriber{g}
}

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return Call(t.Group, func(p stt.Transcriber) (string, error) {
		return p.Transcribe(ctx, pcm, sampleRate)
	})
}

// ── TTS ──────────────────────────────────────────────────────────────────────

// Synthesizer is a [tts.Synthesizer] failing over across several backends.
// Empty text is rejected without touching the breakers.
type Synthesizer struct {
	*Group[tts.Synthesizer]
}

// NewSynthesizer returns a Synthesizer with primary as its first backend.
func NewSynthesizer(primary tts.Synthesizer, name string, cfg BreakerConfig) *Synthesizer {
	g := NewGroup[tts.Synthesizer](ignoring(cfg, func(err error) bool {
		return errors.Is(err, tts.ErrEmptyText)
	}))
	g.Add(name, primary)
	return &Synthesizer{g}
}

// Synthesize implements [tts.Synthesizer].
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return Call(s.Group, func(p tts.Synthesizer) ([]byte, error) {
		return p.Synthesize(ctx, text)
	})
}
