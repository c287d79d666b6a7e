package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWith returns the value of the int64 sum data point carrying key=value.
// An empty key matches the first data point.
func sumWith(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestLatencyHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := map[string]metric.Float64Histogram{
		"voiceform.stt.duration":        m.STTDuration,
		"voiceform.llm.duration":        m.LLMDuration,
		"voiceform.tts.duration":        m.TTSDuration,
		"voiceform.extraction.duration": m.ExtractionDuration,
	}
	for _, h := range histograms {
		h.Record(ctx, 0.04)
		h.Record(ctx, 3)
	}

	rm := collect(t, reader)
	for name := range histograms {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("%s not recorded", name)
			continue
		}
		dps := met.Data.(metricdata.Histogram[float64]).DataPoints
		if len(dps) != 1 || dps[0].Count != 2 {
			t.Errorf("%s data points = %+v", name, dps)
			continue
		}
		if got := dps[0].Bounds; len(got) != len(latencyBuckets) {
			t.Errorf("%s bounds = %v, want %v", name, got, latencyBuckets)
		}
	}
}

func TestRecorders(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "error")
	m.RecordProviderError(ctx, "ollama", "llm")
	m.RecordProtocolEvent(ctx, "response.audio.delta")
	m.RecordProtocolEvent(ctx, "response.audio.delta")
	m.RecordProtocolEvent(ctx, "input_audio_buffer.speech_started")
	m.RecordExtraction(ctx, "ok", 0.2, 3)
	m.RecordExtraction(ctx, "empty", 0.1, 0)
	m.RecordSessionResult(ctx, "ended")
	m.RecordSessionResult(ctx, "connection_lost")
	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"voiceform.provider.requests", "status", "ok", 2},
		{"voiceform.provider.requests", "status", "error", 1},
		{"voiceform.provider.errors", "provider", "ollama", 1},
		{"voiceform.realtime.events", "type", "response.audio.delta", 2},
		{"voiceform.realtime.events", "type", "input_audio_buffer.speech_started", 1},
		{"voiceform.extraction.runs", "status", "empty", 1},
		{"voiceform.extraction.fields", "", "", 3},
		{"voiceform.sessions.finished", "result", "connection_lost", 1},
		{"voiceform.active_sessions", "", "", 1},
	}
	for _, tt := range tests {
		if got := sumWith(t, rm, tt.metric, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.metric, tt.key, tt.value, got, tt.want)
		}
	}
}

func TestDefaultMetrics_Shared(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics built twice")
	}
}
