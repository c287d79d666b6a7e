// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A Synthesizer turns one complete reply into a playable WAV document. The
// turn-based assistant sends that document to the browser as-is; the
// realtime path never needs synthesis because the realtime service speaks
// for itself.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: empty text")

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text as speech and returns a WAV document.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
