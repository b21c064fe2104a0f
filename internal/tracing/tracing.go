// Package tracing wires relaymux's per-request spans (spec §4.H's
// ambient observability note) to OpenTelemetry, exporting over OTLP/HTTP
// when configured and falling back to a no-op tracer otherwise so that
// tracing never gates request handling.
package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaymux/relaymux/internal/config"
)

// tracerName is the instrumentation scope name used for every span this
// package creates.
const tracerName = "relaymux/orchestrator"

// Tracer wraps an OpenTelemetry tracer. The zero value is not usable;
// construct with New.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// New builds a Tracer from the given settings. When cfg.Enabled is
// false, a no-op tracer is returned and Shutdown is a no-op — every call
// site can treat tracing uniformly regardless of configuration.
func New(ctx context.Context, cfg config.TracingSettings) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer(tracerName)}, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("tracing: enabled but otlp_endpoint is empty")
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceNameOrDefault())),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatioOrDefault()))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		tracer:   provider.Tracer(tracerName),
		provider: provider,
		enabled:  true,
	}, nil
}

// Noop returns a Tracer that never exports anything, for tests and for
// callers that haven't loaded a config yet.
func Noop() *Tracer {
	return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer(tracerName)}
}

// Enabled reports whether spans are actually being exported.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// Start begins a span, mirroring trace.Tracer.Start. Callers must End
// the returned span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans and releases exporter resources. Safe
// to call on a no-op Tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// AttemptAttributes returns the span attributes recorded on every
// per-candidate attempt span, per spec §4.H's child-span-per-attempt note.
func AttemptAttributes(provider, upstreamModel string, attemptNum int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("relaymux.provider", provider),
		attribute.String("relaymux.upstream_model", upstreamModel),
		attribute.Int("relaymux.attempt", attemptNum),
	}
}

// RecordOutcome sets the span status from an error and, when non-nil,
// records the error on the span.
func RecordOutcome(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RequestAttributes returns the span attributes recorded on the
// top-level request span.
func RequestAttributes(model string, streaming bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("relaymux.requested_model", model),
		attribute.Bool("relaymux.streaming", streaming),
	}
}
