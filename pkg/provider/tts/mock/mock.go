// Package mock provides a test double for the tts.Synthesizer interface.
//
// Example:
//
//	s := &mock.Synthesizer{Audio: []byte("RIFF...")}
//	wav, _ := s.Synthesize(ctx, "Hello")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceform/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned by Synthesize.
	Audio []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Texts records the text of every Synthesize call in order.
	Texts []string
}

// Synthesize records the call and returns Audio, Err.
func (m *Synthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, text)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Audio, nil
}

// Calls returns a copy of the recorded texts. Thread-safe.
func (m *Synthesizer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Texts...)
}
