// Package telemetry wires up the optional OpenTelemetry tracer. Prometheus
// metrics live next to the code that reports them; the API server exposes the
// shared registry on /metrics.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ludexhq/ludex"

// TracerProvider holds the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// NewTracerProvider builds a tracer provider backed by a stdout exporter and
// installs it globally. Intended for development diagnosis, not production
// export pipelines.
func NewTracerProvider(serviceName, version string) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the shared tracer. Works whether or not a provider was
// installed; without one, spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span under the shared tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RecordError records err on the current span.
func RecordError(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).RecordError(err)
}

// Attribute keys shared across spans.
var (
	AttrQuery     = attribute.Key("ludex.catalog.query")
	AttrPage      = attribute.Key("ludex.catalog.page")
	AttrCacheHit  = attribute.Key("ludex.catalog.cache_hit")
	AttrItemCount = attribute.Key("ludex.catalog.items")
	AttrCommentID = attribute.Key("ludex.comment.id")
	AttrEntityID  = attribute.Key("ludex.comment.entity_id")
)
