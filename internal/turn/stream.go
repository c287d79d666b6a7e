package turn

import (
	"context"
	"errors"
	"log/slog"
)

// DefaultStreamRate is the sample rate of browser-streamed audio.
const DefaultStreamRate = 16000

// Stream cuts continuously received audio into windows of at least one
// second and runs a turn for every window whose transcript is new. A Stream
// serves one connection and is not safe for concurrent use.
type Stream struct {
	p      *Pipeline
	rate   int
	window int
	buf    []byte
	last   string
}

// NewStream returns a Stream for PCM16 mono audio at sampleRate. A
// non-positive rate selects [DefaultStreamRate].
func (p *Pipeline) NewStream(sampleRate int) *Stream {
	if sampleRate <= 0 {
		sampleRate = DefaultStreamRate
	}
	return &Stream{p: p, rate: sampleRate, window: sampleRate * 2}
}

// Feed appends pcm. Once a full window is buffered it is transcribed and the
// buffer cleared. It returns a reply and true when the window produced a new
// utterance that was answered. Content failures skip the turn and are only
// logged; Feed returns an error only when ctx is done.
func (s *Stream) Feed(ctx context.Context, pcm []byte) (Reply, bool, error) {
	s.buf = append(s.buf, pcm...)
	if len(s.buf) < s.window {
		return Reply{}, false, nil
	}
	window := s.buf
	s.buf = nil

	text, err := s.p.Transcribe(ctx, window, s.rate)
	switch {
	case ctx.Err() != nil:
		return Reply{}, false, ctx.Err()
	case errors.Is(err, ErrNoSpeech):
		return Reply{}, false, nil
	case err != nil:
		slog.Warn("stream turn skipped", "err", err)
		return Reply{}, false, nil
	case text == s.last:
		return Reply{}, false, nil
	}
	s.last = text

	r, err := s.p.Respond(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, false, ctx.Err()
		}
		slog.Warn("stream turn skipped", "transcript", text, "err", err)
		return Reply{}, false, nil
	}
	return r, true, nil
}

// Buffered returns the number of bytes waiting for the next window.
func (s *Stream) Buffered() int { return len(s.buf) }
