// Package device connects the local sound card to a voice session through
// PortAudio: a [Microphone] feeding an [audio.Queue] from the capture
// callback and a [Speaker] playing assistant audio.
//
// [Init] must be called once before any device is opened, and the returned
// function once all devices are closed.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voiceform/pkg/audio"
)

const (
	// DefaultInputRate is the capture rate of the microphone.
	DefaultInputRate = 16000

	// DefaultOutputRate is the playback rate of the speaker (stereo).
	DefaultOutputRate = 48000

	// DefaultFramesPerBuffer is the capture block size in frames.
	DefaultFramesPerBuffer = 1024
)

// ErrClosed is returned by Play after the speaker was closed.
var ErrClosed = errors.New("device: closed")

// Init initialises PortAudio and returns the matching terminate function.
func Init() (terminate func() error, err error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: init portaudio: %w", err)
	}
	return portaudio.Terminate, nil
}

// ── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures mono PCM16 from the default input device. The capture
// callback only copies the buffer and pushes it onto the queue, so it never
// blocks the audio thread.
type Microphone struct {
	rate   int
	frames int

	mu      sync.Mutex
	stream  *portaudio.Stream
	stopped bool
}

// NewMicrophone returns a microphone capturing at rate Hz in blocks of frames
// samples. Non-positive values select the defaults.
func NewMicrophone(rate, frames int) *Microphone {
	if rate <= 0 {
		rate = DefaultInputRate
	}
	if frames <= 0 {
		frames = DefaultFramesPerBuffer
	}
	return &Microphone{rate: rate, frames: frames}
}

// Start opens the input stream and begins pushing chunks onto q.
func (m *Microphone) Start(_ context.Context, q *audio.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrClosed
	}
	if m.stream != nil {
		return errors.New("device: microphone already started")
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.rate), m.frames, captureFunc(q, m.rate))
	if err != nil {
		return fmt.Errorf("device: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("device: start input stream: %w", err)
	}
	m.stream = stream
	return nil
}

// Stop stops capture and closes the stream. Idempotent.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	if m.stream == nil {
		return nil
	}
	return closeStream(m.stream)
}

// captureFunc returns the PortAudio callback that forwards each captured
// block to q.
func captureFunc(q *audio.Queue, rate int) func([]int16) {
	return func(in []int16) {
		q.Push(audio.Chunk{Data: audio.Bytes(in), SampleRate: rate})
	}
}

// ── Speaker ──────────────────────────────────────────────────────────────────

// Speaker plays mono PCM16 on the default output device in stereo at its
// output rate.
type Speaker struct {
	rate int

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// NewSpeaker returns a speaker playing at rate Hz. Non-positive means
// [DefaultOutputRate].
func NewSpeaker(rate int) *Speaker {
	if rate <= 0 {
		rate = DefaultOutputRate
	}
	return &Speaker{rate: rate}
}

// Open opens the output stream.
func (s *Speaker) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.stream != nil {
		return nil
	}
	stream, err := portaudio.OpenDefaultStream(0, 2, float64(s.rate), 0, &s.buf)
	if err != nil {
		return fmt.Errorf("device: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("device: start output stream: %w", err)
	}
	s.stream = stream
	return nil
}

// Play resamples pcm from rate to the output rate, duplicates it to stereo,
// and blocks until it has been handed to the device.
func (s *Speaker) Play(pcm []byte, rate int) error {
	if len(pcm) < 2 {
		return nil
	}
	frames := playbackSamples(pcm, rate, s.rate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stream == nil {
		return ErrClosed
	}
	s.buf = frames
	if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return fmt.Errorf("device: write output: %w", err)
	}
	return nil
}

// Close stops playback and closes the stream. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stream == nil {
		return nil
	}
	return closeStream(s.stream)
}

// playbackSamples converts mono PCM16 at from Hz into interleaved stereo
// samples at to Hz.
func playbackSamples(pcm []byte, from, to int) []int16 {
	return audio.Samples(audio.MonoToStereo(audio.ResamplePCM16(pcm, from, to)))
}

func closeStream(stream *portaudio.Stream) error {
	stopErr := stream.Stop()
	closeErr := stream.Close()
	if err := errors.Join(stopErr, closeErr); err != nil {
		return fmt.Errorf("device: close stream: %w", err)
	}
	return nil
}
