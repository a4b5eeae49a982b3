package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/KetaVip/license-bot/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	validationCounter metric.Int64Counter
	mutationCounter   metric.Int64Counter
	sweepCounter      metric.Int64Counter
	repoCounter       metric.Int64Counter
	rateLimitCounter  metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Telemetry.MetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Telemetry.Endpoint)}
	if cfg.Telemetry.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.Telemetry.ServiceName),
			attribute.String("deployment.environment", cfg.Telemetry.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Telemetry.MetricsInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("license-bot")
	validationCounter, err := meter.Int64Counter("license.validation.checks")
	if err != nil {
		return nil, err
	}
	mutationCounter, err := meter.Int64Counter("license.mutations")
	if err != nil {
		return nil, err
	}
	sweepCounter, err := meter.Int64Counter("license.sweep.events")
	if err != nil {
		return nil, err
	}
	repoCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	rateLimitCounter, err := meter.Int64Counter("http.rate_limit.decisions")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		validationCounter: validationCounter,
		mutationCounter:   mutationCounter,
		sweepCounter:      sweepCounter,
		repoCounter:       repoCounter,
		rateLimitCounter:  rateLimitCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.Telemetry.Endpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

// RecordValidation counts one /check outcome by status.
func RecordValidation(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.validationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordLicenseMutation counts one store mutation (issue, renew, revoke, reset).
func RecordLicenseMutation(ctx context.Context, action, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.mutationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// RecordSweepEvent counts sweep results: expired, warned, error.
func RecordSweepEvent(ctx context.Context, kind string) {
	m := current()
	if m == nil {
		return
	}
	m.sweepCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func RecordRepositoryOperation(ctx context.Context, table, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}
