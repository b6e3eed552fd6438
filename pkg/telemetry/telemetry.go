// Package telemetry exports paylink metrics over OTLP/gRPC.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/lojacheckout/paylink/pkg/config"
)

// Provider owns the meter provider for the process
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	noop          metric.MeterProvider
	logger        *slog.Logger
}

// New creates the metrics pipeline. Without an endpoint metrics are dropped.
func New(ctx context.Context, cfg config.TelemetryConfig, version string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{logger: logger.With("component", "telemetry")}

	if cfg.Endpoint == "" {
		p.noop = noop.NewMeterProvider()
		p.logger.InfoContext(ctx, "metrics export disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.logger.InfoContext(ctx, "metrics export enabled",
		"endpoint", cfg.Endpoint,
		"interval", interval,
		"insecure", cfg.Insecure)

	return p, nil
}

// MeterProvider returns the provider to hand to the gateway
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p.meterProvider != nil {
		return p.meterProvider
	}
	return p.noop
}

// Shutdown flushes pending metrics
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}
