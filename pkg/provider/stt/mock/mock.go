// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to feed controlled transcripts to a component and to
// inspect which audio buffers it submitted.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "my company is Acme"}
//	text, _ := tr.Transcribe(ctx, pcm, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceform/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte
	// SampleRate is the rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// TranscribeFunc, if set, computes each result and takes precedence over
	// Text, Texts, and Err.
	TranscribeFunc func(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// Texts is consumed one entry per call. Once exhausted, Text is returned.
	Texts []string

	// Text is returned when Texts is empty.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (m *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{PCM: append([]byte(nil), pcm...), SampleRate: sampleRate})
	fn := m.TranscribeFunc
	text := m.Text
	if len(m.Texts) > 0 {
		text = m.Texts[0]
		m.Texts = m.Texts[1:]
	}
	err := m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, sampleRate)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
