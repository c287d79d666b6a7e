// The native transcriber links libwhisper through cgo. libwhisper.a and
// whisper.h must be reachable through LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voiceform/pkg/audio"
	"github.com/MrWong99/voiceform/pkg/provider/stt"
)

var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the spoken language. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the CPU threads one inference uses. Zero keeps the
// library default.
func WithNativeThreads(n int) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// WithNativeConcurrency caps simultaneous inferences. Default: 1, since a
// single inference already saturates the configured threads.
func WithNativeConcurrency(n int) NativeOption {
	return func(p *NativeProvider) { p.concurrency = n }
}

// NativeProvider transcribes in process. The model is loaded once; each call
// gets its own inference context and waits for a slot when the concurrency
// limit is reached.
type NativeProvider struct {
	model       whisperlib.Model
	language    string
	threads     int
	concurrency int
	slots       *semaphore.Weighted
}

// NewNative loads the model at modelPath. Call Close to release it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &NativeProvider{language: defaultLanguage, concurrency: 1}
	for _, o := range opts {
		o(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.threads > runtime.NumCPU() {
		p.threads = runtime.NumCPU()
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p.model = model
	p.slots = semaphore.NewWeighted(int64(p.concurrency))
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements stt.Transcriber.
func (p *NativeProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) < 2 {
		return "", stt.ErrNoAudio
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("whisper: wait for inference slot: %w", err)
	}
	defer p.slots.Release(1)

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", p.language, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(uint(p.threads))
	}

	samples := audio.Float32(audio.ResamplePCM16(pcm, sampleRate, modelRate))
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}
	return segmentsText(wctx)
}

// segmentsText joins the non-blank segments of a processed context.
func segmentsText(wctx whisperlib.Context) (string, error) {
	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
