// Package observe provides application-wide observability primitives for
// Tilmash: OpenTelemetry metrics, distributed tracing, and structured
// logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Tilmash metrics.
const meterName = "github.com/aserkali/tilmash"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// NormalizeDuration tracks transcript normalization latency.
	NormalizeDuration metric.Float64Histogram

	// ComparisonDuration tracks end-to-end comparison run latency.
	ComparisonDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Corrections counts applied dictionary corrections. Use with attributes:
	//   attribute.String("language", ...), attribute.String("match", ...)
	Corrections metric.Int64Counter

	// UnknownTerms counts unknown-term candidates surfaced by
	// normalization. Use with attribute:
	//   attribute.String("language", ...)
	UnknownTerms metric.Int64Counter

	// TurnsProcessed counts completed transcription turns. Use with
	// attribute:
	//   attribute.String("provider", ...)
	TurnsProcessed metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ApprovedTerms tracks the size of the approved dictionary.
	ApprovedTerms metric.Int64UpDownCounter
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
	if met.STTDuration, err = m.Float64Histogram("tilmash.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("tilmash.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NormalizeDuration, err = m.Float64Histogram("tilmash.normalize.duration",
		metric.WithDescription("Latency of transcript normalization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ComparisonDuration, err = m.Float64Histogram("tilmash.comparison.duration",
		metric.WithDescription("End-to-end latency of a provider comparison run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("tilmash.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("tilmash.dictionary.corrections",
		metric.WithDescription("Total applied dictionary corrections by language and match kind."),
	); err != nil {
		return nil, err
	}
	if met.UnknownTerms, err = m.Int64Counter("tilmash.dictionary.unknown_terms",
		metric.WithDescription("Total unknown-term candidates by language."),
	); err != nil {
		return nil, err
	}
	if met.TurnsProcessed, err = m.Int64Counter("tilmash.turns.processed",
		metric.WithDescription("Total completed transcription turns by provider."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("tilmash.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tilmash.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ApprovedTerms, err = m.Int64UpDownCounter("tilmash.dictionary.approved_terms",
		metric.WithDescription("Number of approved dictionary terms."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCorrection is a convenience method that records an applied
// dictionary correction.
func (m *Metrics) RecordCorrection(ctx context.Context, language, match string) {
	m.Corrections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("language", language),
			attribute.String("match", match),
		),
	)
}

// RecordUnknownTerm is a convenience method that records an unknown-term
// candidate.
func (m *Metrics) RecordUnknownTerm(ctx context.Context, language string) {
	m.UnknownTerms.Add(ctx, 1,
		metric.WithAttributes(attribute.String("language", language)),
	)
}

// RecordTurn is a convenience method that records a completed turn.
func (m *Metrics) RecordTurn(ctx context.Context, provider string) {
	m.TurnsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
