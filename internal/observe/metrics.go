// Package observe provides the observability primitives for callbridge:
// OpenTelemetry metrics and tracing, a trace-aware logger, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter set up by [InitProvider]. A
// package-level [DefaultMetrics] instance is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all callbridge metrics.
const meterName = "github.com/MrWong99/callbridge"

// Chunk outcomes recorded by [Metrics.RecordChunk].
const (
	ChunkDelivered = "delivered"
	ChunkSilent    = "silent"
	ChunkSkipped   = "skipped"
	ChunkDropped   = "dropped"
)

// Metrics holds all OpenTelemetry instruments for the application. The
// underlying OTel types are safe for concurrent use.
type Metrics struct {
	// STTDuration, TranslateDuration and TTSDuration track per-stage latency
	// of the translation pipeline, including retries.
	STTDuration       metric.Float64Histogram
	TranslateDuration metric.Float64Histogram
	TTSDuration       metric.Float64Histogram

	// ChunkDuration tracks end-to-end processing time of one audio chunk.
	ChunkDuration metric.Float64Histogram

	// Chunks counts processed chunks by attribute "outcome".
	Chunks metric.Int64Counter

	// ProviderRequests counts provider calls by "provider", "kind", "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by "provider", "kind".
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by "name", "to".
	BreakerTransitions metric.Int64Counter

	// BotRejections counts refused bot creations by "reason".
	BotRejections metric.Int64Counter

	// ActiveSessions tracks open media-stream sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveBots tracks bot legs currently tracked by the bot manager.
	ActiveBots metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request time by "method", "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds suited to network
// speech APIs.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.STTDuration, err = histogram("callbridge.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = histogram("callbridge.translate.duration", "Latency of text translation."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("callbridge.tts.duration", "Latency of text-to-speech synthesis."); err != nil {
		return nil, err
	}
	if met.ChunkDuration, err = histogram("callbridge.chunk.duration", "End-to-end processing time of one audio chunk."); err != nil {
		return nil, err
	}

	if met.Chunks, err = m.Int64Counter("callbridge.chunks",
		metric.WithDescription("Processed audio chunks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("callbridge.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("callbridge.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("callbridge.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker name and target state."),
	); err != nil {
		return nil, err
	}
	if met.BotRejections, err = m.Int64Counter("callbridge.bot.rejections",
		metric.WithDescription("Refused bot participant creations by reason."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("callbridge.active_sessions",
		metric.WithDescription("Number of open media-stream sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveBots, err = m.Int64UpDownCounter("callbridge.active_bots",
		metric.WithDescription("Number of bot participants currently attached."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("callbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider].
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordChunk increments the chunk counter for outcome.
func (m *Metrics) RecordChunk(ctx context.Context, outcome string) {
	m.Chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBotRejection increments the bot rejection counter for reason.
func (m *Metrics) RecordBotRejection(ctx context.Context, reason string) {
	m.BotRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBreakerTransition increments the breaker transition counter.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("to", to),
		),
	)
}
