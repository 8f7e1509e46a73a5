// Package observe carries kaigo's telemetry: OpenTelemetry metrics exported
// for Prometheus scraping, tracing, trace-aware slog loggers and the HTTP
// middleware that ties them together.
//
// [Init] installs the global providers and serves metrics on a dedicated
// registry. Code that cannot be handed a [Metrics] falls back to
// [DefaultMetrics]; tests build their own with [NewMetrics] and a
// ManualReader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/kaigo"

// Metrics holds the instruments of one meter. The Record helpers fix the
// attribute sets so dashboards see consistent label names.
type Metrics struct {
	// Latency, in seconds.
	GeneratorDuration   metric.Float64Histogram // purpose, mode
	TurnDuration        metric.Float64Histogram // outcome
	HTTPRequestDuration metric.Float64Histogram // method, path

	GeneratorRequests      metric.Int64Counter // model, mode, status
	ProviderRequests       metric.Int64Counter // provider, kind, status
	ProviderErrors         metric.Int64Counter // provider, kind
	SchemaFallbacks        metric.Int64Counter // model
	SchemaMismatches       metric.Int64Counter // purpose
	StructuralRetries      metric.Int64Counter // reason
	Backfills              metric.Int64Counter // status
	FieldFallbacks         metric.Int64Counter // field, source
	GuardrailSubstitutions metric.Int64Counter // scene, persona
	Turns                  metric.Int64Counter // outcome

	ActiveTurns metric.Int64UpDownCounter
}

// LLM round trips range from tens of milliseconds on a local model to tens
// of seconds on a congested hosted one.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var errs []error
	hist := func(name, desc string, opts ...metric.Float64HistogramOption) metric.Float64Histogram {
		h, err := m.Float64Histogram(name, append([]metric.Float64HistogramOption{
			metric.WithDescription(desc), metric.WithUnit("s"),
		}, opts...)...)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	buckets := metric.WithExplicitBucketBoundaries(latencyBuckets...)

	met := &Metrics{
		GeneratorDuration:   hist("kaigo.generator.duration", "Latency of one generator call.", buckets),
		TurnDuration:        hist("kaigo.turn.duration", "End-to-end latency of a turn.", buckets),
		HTTPRequestDuration: hist("kaigo.http.request.duration", "HTTP request latency by method and path."),

		GeneratorRequests:      counter("kaigo.generator.requests", "Generator attempts by model, mode and status."),
		ProviderRequests:       counter("kaigo.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:         counter("kaigo.provider.errors", "Provider errors by provider and kind."),
		SchemaFallbacks:        counter("kaigo.generator.schema_fallbacks", "Strict requests retried in loose mode, by model."),
		SchemaMismatches:       counter("kaigo.generator.schema_mismatches", "Decoded responses failing the turn schema, by purpose."),
		StructuralRetries:      counter("kaigo.repair.retries", "Structural retries by first rejection reason."),
		Backfills:              counter("kaigo.repair.backfills", "Backfill calls by status."),
		FieldFallbacks:         counter("kaigo.repair.field_fallbacks", "Fields filled deterministically, by field and source."),
		GuardrailSubstitutions: counter("kaigo.guardrail.substitutions", "Agent replies replaced by a guardrail fallback."),
		Turns:                  counter("kaigo.turns", "Finished turns by outcome."),
	}
	var err error
	met.ActiveTurns, err = m.Int64UpDownCounter("kaigo.active_turns",
		metric.WithDescription("Turns currently in the pipeline."))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on [otel.GetMeterProvider],
// created on first use.
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

// RecordProviderRequest counts one call to a fallback-group member. The
// generator counts its attempts separately with [Metrics.RecordGeneratorRequest].
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one failure of a fallback-group member.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordGeneratorCall records the latency of one generator call.
func (m *Metrics) RecordGeneratorCall(ctx context.Context, purpose, mode string, seconds float64) {
	m.GeneratorDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("purpose", purpose),
			attribute.String("mode", mode),
		),
	)
}

// RecordSchemaFallback records a strict-to-loose downgrade for model.
func (m *Metrics) RecordSchemaFallback(ctx context.Context, model string) {
	m.SchemaFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

// RecordRetry records one structural retry.
func (m *Metrics) RecordRetry(ctx context.Context, reason string) {
	m.StructuralRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBackfill records one backfill call.
func (m *Metrics) RecordBackfill(ctx context.Context, status string) {
	m.Backfills.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordFieldFallback records a field filled without the generator.
func (m *Metrics) RecordFieldFallback(ctx context.Context, field, source string) {
	m.FieldFallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("field", field),
			attribute.String("source", source),
		),
	)
}

// RecordGuardrailSubstitution records a fallback substitution.
func (m *Metrics) RecordGuardrailSubstitution(ctx context.Context, scene, persona string) {
	m.GuardrailSubstitutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("scene", scene),
			attribute.String("persona", persona),
		),
	)
}

// RecordTurn records a finished turn and its pipeline latency.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, seconds float64) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.TurnDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordGeneratorRequest counts one generator attempt. status is ok, error,
// schema_rejected or rate_limited.
func (m *Metrics) RecordGeneratorRequest(ctx context.Context, model, mode, status string) {
	m.GeneratorRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordSchemaMismatch counts a decoded response that did not match its
// JSON schema.
func (m *Metrics) RecordSchemaMismatch(ctx context.Context, purpose string) {
	m.SchemaMismatches.Add(ctx, 1, metric.WithAttributes(attribute.String("purpose", purpose)))
}
