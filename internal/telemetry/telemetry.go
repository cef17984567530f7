// Package telemetry configures OpenTelemetry metric export for polytrade.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/coachpo/polytrade/internal/config"
)

// Init configures the OTLP metric exporter based on the provided
// configuration. Without an endpoint a noop provider is installed, keeping
// instrument call sites unconditional.
func Init(ctx context.Context, cfg config.TelemetryConfig) (apimetric.MeterProvider, func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "polytrade"
	}

	if endpoint == "" {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, func(context.Context) error { return nil }, nil
	}

	metricExp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	shutdown := func(ctx context.Context) error {
		return provider.Shutdown(ctx)
	}
	return provider, shutdown, nil
}

// EngineMetrics groups the trading engine's counters.
type EngineMetrics struct {
	Evaluations      apimetric.Int64Counter
	SignalsCollected apimetric.Int64Counter
	OrdersSubmitted  apimetric.Int64Counter
	OrdersRejected   apimetric.Int64Counter
}

// NewEngineMetrics registers the engine instruments on the provider.
func NewEngineMetrics(provider apimetric.MeterProvider) (*EngineMetrics, error) {
	meter := provider.Meter("polytrade/engine")

	evaluations, err := meter.Int64Counter("engine.strategy.evaluations",
		apimetric.WithDescription("Strategy evaluations dispatched per order-book update"))
	if err != nil {
		return nil, err
	}
	signals, err := meter.Int64Counter("engine.strategy.signals",
		apimetric.WithDescription("Signals collected above the confidence gate"))
	if err != nil {
		return nil, err
	}
	submitted, err := meter.Int64Counter("engine.orders.submitted",
		apimetric.WithDescription("Orders accepted by the order manager"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("engine.orders.rejected",
		apimetric.WithDescription("Orders rejected by the risk gate or the venue"))
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		Evaluations:      evaluations,
		SignalsCollected: signals,
		OrdersSubmitted:  submitted,
		OrdersRejected:   rejected,
	}, nil
}
