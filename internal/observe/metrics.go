// Package observe provides application-wide observability primitives for
// voicepipe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicepipe metrics.
const meterName = "github.com/osone/voicepipe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// GenerationDuration tracks full LLM generation latency per turn.
	GenerationDuration metric.Float64Histogram

	// FirstTokenLatency tracks time from prompt submission to the first
	// streamed token.
	FirstTokenLatency metric.Float64Histogram

	// TurnDuration tracks end-to-end latency from detected end of speech to
	// the first chunk handed to the speech sink.
	TurnDuration metric.Float64Histogram

	// ModelLoadDuration tracks model load latency.
	ModelLoadDuration metric.Float64Histogram

	// --- Counters ---

	// FramesDropped counts malformed audio frames discarded by the voice
	// activity detector.
	FramesDropped metric.Int64Counter

	// BargeIns counts user interruptions of in-progress speech.
	BargeIns metric.Int64Counter

	// GenerationOutcomes counts terminated generation sessions. Use with
	// attribute: attribute.String("outcome", ...)
	GenerationOutcomes metric.Int64Counter

	// ModelLoads counts model load attempts. Use with attributes:
	//   attribute.String("model", ...), attribute.String("status", ...)
	// where status is "ok", "error", or "superseded".
	ModelLoads metric.Int64Counter

	// TranscriptsFiltered counts transcripts discarded before reaching the
	// model. Use with attribute: attribute.String("reason", ...)
	TranscriptsFiltered metric.Int64Counter

	// TurnsCompleted counts voice turns that produced spoken output.
	TurnsCompleted metric.Int64Counter

	// --- Gauges ---

	// ActiveGenerations tracks in-flight generation sessions (0 or 1).
	ActiveGenerations metric.Int64UpDownCounter

	// EventSubscribers tracks connected event-feed subscribers.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voicepipe.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("voicepipe.generation.duration",
		metric.WithDescription("Full LLM generation latency per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstTokenLatency, err = m.Float64Histogram("voicepipe.generation.first_token",
		metric.WithDescription("Time from prompt submission to first streamed token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voicepipe.turn.duration",
		metric.WithDescription("Latency from end of speech to first spoken chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadDuration, err = m.Float64Histogram("voicepipe.model.load_duration",
		metric.WithDescription("Model load latency."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesDropped, err = m.Int64Counter("voicepipe.vad.frames_dropped",
		metric.WithDescription("Malformed audio frames discarded by the VAD."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voicepipe.turn.barge_ins",
		metric.WithDescription("User interruptions of in-progress speech."),
	); err != nil {
		return nil, err
	}
	if met.GenerationOutcomes, err = m.Int64Counter("voicepipe.generation.outcomes",
		metric.WithDescription("Terminated generation sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ModelLoads, err = m.Int64Counter("voicepipe.model.loads",
		metric.WithDescription("Model load attempts by model and status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsFiltered, err = m.Int64Counter("voicepipe.transcript.filtered",
		metric.WithDescription("Transcripts discarded before reaching the model, by reason."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCompleted, err = m.Int64Counter("voicepipe.turn.completed",
		metric.WithDescription("Voice turns that produced spoken output."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveGenerations, err = m.Int64UpDownCounter("voicepipe.generation.active",
		metric.WithDescription("In-flight generation sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("voicepipe.events.subscribers",
		metric.WithDescription("Connected event-feed subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicepipe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordGenerationOutcome is a convenience method that records a terminated
// generation session with its outcome.
func (m *Metrics) RecordGenerationOutcome(ctx context.Context, outcome string) {
	m.GenerationOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordModelLoad is a convenience method that records a model load attempt
// with the standard attribute set.
func (m *Metrics) RecordModelLoad(ctx context.Context, model, status string) {
	m.ModelLoads.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("status", status),
		),
	)
}

// RecordTranscriptFiltered is a convenience method that records a discarded
// transcript with its reason.
func (m *Metrics) RecordTranscriptFiltered(ctx context.Context, reason string) {
	m.TranscriptsFiltered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordBargeIn is a convenience method that records a user interruption.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}
