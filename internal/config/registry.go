package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voiceform/pkg/provider/llm"
	"github.com/MrWong99/voiceform/pkg/provider/stt"
	"github.com/MrWong99/voiceform/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a [ProviderEntry] names a
// provider without a registered factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds one provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// catalog is the factory table for one provider kind.
type catalog[T any] struct {
	kind      string
	factories map[string]Factory[T]
}

func newCatalog[T any](kind string) catalog[T] {
	return catalog[T]{kind: kind, factories: make(map[string]Factory[T])}
}

func (c catalog[T]) build(entry ProviderEntry) (T, error) {
	f, ok := c.factories[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, c.kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: build %s/%s: %w", c.kind, entry.Name, err)
	}
	return p, nil
}

// Registry maps provider names to factories, one table per provider kind.
// Registering a name twice replaces the earlier factory. Safe for concurrent
// use.
type Registry struct {
	mu  sync.RWMutex
	llm catalog[llm.Provider]
	stt catalog[stt.Transcriber]
	tts catalog[tts.Synthesizer]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: newCatalog[llm.Provider]("llm"),
		stt: newCatalog[stt.Transcriber]("stt"),
		tts: newCatalog[tts.Synthesizer]("tts"),
	}
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.factories[name] = f
}

func (r *Registry) RegisterSTT(name string, f Factory[stt.Transcriber]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.factories[name] = f
}

func (r *Registry) RegisterTTS(name string, f Factory[tts.Synthesizer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.factories[name] = f
}

// CreateLLM builds the LLM named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.build(entry)
}

// CreateSTT builds the transcriber named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.build(entry)
}

// CreateTTS builds the synthesizer named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.build(entry)
}

// Names lists the registered provider names per kind ("llm", "stt", "tts"),
// sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.llm.kind: slices.Sorted(maps.Keys(r.llm.factories)),
		r.stt.kind: slices.Sorted(maps.Keys(r.stt.factories)),
		r.tts.kind: slices.Sorted(maps.Keys(r.tts.factories)),
	}
}
