// Package observe wires OpenTelemetry into voiceform.
//
// [Setup] installs the global meter and tracer providers and exposes the
// metrics on a Prometheus handler. [Metrics] holds the pipeline instruments
// (provider latency, realtime events, extraction runs, session results).
// [StartSpan], [EndSpan] and [Logger] tie spans and log lines to the voice
// session carried in a context, and [Middleware] does the same for HTTP
// requests.
//
// Production code takes [DefaultMetrics]; tests build their own with
// [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks chat completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// ExtractionDuration tracks one field-extraction run end to end.
	ExtractionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ProtocolEvents counts inbound realtime events. Attribute: type.
	ProtocolEvents metric.Int64Counter

	// Truncations counts barge-in truncations sent to the realtime service.
	Truncations metric.Int64Counter

	// Extractions counts extraction runs. Attribute: status (ok, empty, error).
	Extractions metric.Int64Counter

	// FieldsExtracted counts form fields updated by extraction.
	FieldsExtracted metric.Int64Counter

	// AudioChunksDropped counts audio chunks dropped by a capped queue.
	AudioChunksDropped metric.Int64Counter

	// SessionResults counts finished sessions. Attribute: result
	// (ended, connection_lost, cancelled, error).
	SessionResults metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path (the route pattern), status (2xx, 4xx, ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, spanning a fast STT
// call up to a slow LLM completion.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument from mp's meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(scopeName)
	met := &Metrics{}

	latencies := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "voiceform.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "voiceform.llm.duration", "Latency of chat completions."},
		{&met.TTSDuration, "voiceform.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.ExtractionDuration, "voiceform.extraction.duration", "Latency of one field-extraction run."},
		{&met.HTTPRequestDuration, "voiceform.http.request.duration", "HTTP request latency by method, route and status class."},
	}
	for _, h := range latencies {
		inst, err := meter.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, fmt.Errorf("observe: histogram %s: %w", h.name, err)
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "voiceform.provider.requests", "Provider API requests by provider, kind and status."},
		{&met.ProviderErrors, "voiceform.provider.errors", "Provider errors by provider and kind."},
		{&met.ProtocolEvents, "voiceform.realtime.events", "Inbound realtime protocol events by type."},
		{&met.Truncations, "voiceform.realtime.truncations", "Assistant items truncated by user speech."},
		{&met.Extractions, "voiceform.extraction.runs", "Field-extraction runs by status."},
		{&met.FieldsExtracted, "voiceform.extraction.fields", "Form fields updated by extraction."},
		{&met.AudioChunksDropped, "voiceform.audio.dropped_chunks", "Audio chunks dropped by a capped input queue."},
		{&met.SessionResults, "voiceform.sessions.finished", "Finished voice sessions by result."},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("observe: counter %s: %w", c.name, err)
		}
		*c.dst = inst
	}

	var err error
	met.ActiveSessions, err = meter.Int64UpDownCounter("voiceform.active_sessions",
		metric.WithDescription("Number of live voice sessions."))
	if err != nil {
		return nil, fmt.Errorf("observe: gauge voiceform.active_sessions: %w", err)
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a shared [Metrics] built from the global meter
// provider on first use. Install the provider with [Setup] before calling
// it.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProtocolEvent records one inbound realtime event.
func (m *Metrics) RecordProtocolEvent(ctx context.Context, eventType string) {
	m.ProtocolEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordExtraction records one extraction run and the number of fields it
// produced.
func (m *Metrics) RecordExtraction(ctx context.Context, status string, seconds float64, fields int) {
	m.Extractions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.ExtractionDuration.Record(ctx, seconds)
	if fields > 0 {
		m.FieldsExtracted.Add(ctx, int64(fields))
	}
}

// RecordSessionResult records a finished session.
func (m *Metrics) RecordSessionResult(ctx context.Context, result string) {
	m.SessionResults.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
