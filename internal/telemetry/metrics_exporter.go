package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterConfig points the otlpmetrichttp exporter at the collector endpoint.
// This runs alongside the Prometheus /metrics scrape target, not instead of
// it: Prometheus serves pull-based dashboards, the OTLP push feeds whatever
// metrics backend a deployment's collector fans out to.
type MeterConfig struct {
	OtlpEndpoint   string
	ExportInterval time.Duration
}

func (c *MeterConfig) setDefaults() {
	if c.ExportInterval <= 0 {
		c.ExportInterval = 15 * time.Second
	}
}

// NewMeterProvider builds an otel MeterProvider pushing metrics over
// OTLP/HTTP on a periodic reader.
func NewMeterProvider(ctx context.Context, cfg MeterConfig) (*sdkmetric.MeterProvider, error) {
	cfg.setDefaults()
	exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.OtlpEndpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return mp, nil
}

// Meter returns the named meter from mp, e.g. for a counter that tracks
// something Prometheus's pull model can't (a push-only collector sidecar
// downstream of the OTLP receiver).
func Meter(mp *sdkmetric.MeterProvider, name string) otelmetric.Meter {
	return mp.Meter(name)
}
