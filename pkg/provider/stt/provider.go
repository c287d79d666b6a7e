// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one complete utterance of 16-bit signed little-endian
// mono PCM into text. Callers buffer audio themselves and hand over whole
// utterances; streaming recognition is the realtime service's job.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when Transcribe is called with an empty buffer.
var ErrNoAudio = errors.New("stt: no audio")

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe returns the text spoken in pcm, which is sampled at
	// sampleRate Hz. Silence yields an empty string and a nil error.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}
