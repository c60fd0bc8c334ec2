package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracerConfig points the otlptracehttp exporter at the collector endpoint.
type TracerConfig struct {
	OtlpEndpoint string
	ServiceName  string
}

// NewTracerProvider builds an otel TracerProvider exporting spans over
// OTLP/HTTP, used for CriticalLaneExecutor's per-phase spans and for
// cross-component trace propagation through the ingest -> resolve -> submit
// path.
func NewTracerProvider(ctx context.Context, cfg TracerConfig) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OtlpEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the named tracer from the global provider, e.g.
// telemetry.Tracer("execution").
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
