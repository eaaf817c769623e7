package common

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	metric2 "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// InitInstrumentation setups otel. Without an exporter endpoint the global noop providers are kept
// and only the custom meters are created.
func InitInstrumentation(serviceName, serviceVersion, serviceEnvironment, exporterEndpoint string) (func(ctx context.Context), error) {

	if exporterEndpoint == "" {
		if err := createCustomMeters(serviceName, serviceVersion, serviceEnvironment); err != nil {
			return nil, fmt.Errorf("failed to create custom meters: %w", err)
		}
		return func(context.Context) {}, nil
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironmentName(serviceEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to merge otel resource: %w", err)
	}

	// Metric exporter
	metricExporter, err := otlpmetricgrpc.New(
		context.Background(),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(exporterEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	// A run lasts minutes, the final collection happens on shutdown
	metricPeriodicReader := metric.NewPeriodicReader(metricExporter, metric.WithInterval(30*time.Second))

	metricsProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metricPeriodicReader),
	)
	otel.SetMeterProvider(metricsProvider)

	err = createCustomMeters(serviceName, serviceVersion, serviceEnvironment)
	if err != nil {
		_ = metricsProvider.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create custom meters: %w", err)
	}

	// Trace exporter
	traceExporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(exporterEndpoint),
	)
	if err != nil {
		_ = metricsProvider.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	traceProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) {
		_ = metricsProvider.Shutdown(ctx)
		_ = traceProvider.Shutdown(ctx)
	}, nil
}

// ReleasesFetchedTotalIncr increases in 1 a metric for tracking release downloads by result
var ReleasesFetchedTotalIncr = func(ctx context.Context, language, result string) {}

// FilesPrunedTotalAdd adds to the metrics tracking pruned files and reclaimed bytes
var FilesPrunedTotalAdd = func(ctx context.Context, rule string, files int, bytes int64) {}

func createCustomMeters(serviceName, serviceVersion, serviceEnvironment string) error {
	meter := otel.Meter(serviceName)

	commonAttrs := []attribute.KeyValue{
		attribute.String(string(semconv.DeploymentEnvironmentNameKey), serviceEnvironment),
		attribute.String(string(semconv.ServiceVersionKey), serviceVersion),
	}

	releasesFetchedTotal, err := meter.Int64Counter("releases_fetched_total")
	if err != nil {
		return fmt.Errorf("failed to create custom meter: %w", err)
	}
	ReleasesFetchedTotalIncr = func(ctx context.Context, language, result string) {
		releasesFetchedTotal.Add(ctx, 1, metric2.WithAttributes(append(commonAttrs,
			attribute.String("language", language),
			attribute.String("result", result),
		)...))
	}

	filesPrunedTotal, err := meter.Int64Counter("files_pruned_total")
	if err != nil {
		return fmt.Errorf("failed to create custom meter: %w", err)
	}
	bytesPrunedTotal, err := meter.Int64Counter("bytes_pruned_total", metric2.WithUnit("By"))
	if err != nil {
		return fmt.Errorf("failed to create custom meter: %w", err)
	}
	FilesPrunedTotalAdd = func(ctx context.Context, rule string, files int, bytes int64) {
		attrs := metric2.WithAttributes(append(commonAttrs, attribute.String("rule", rule))...)
		filesPrunedTotal.Add(ctx, int64(files), attrs)
		bytesPrunedTotal.Add(ctx, bytes, attrs)
	}

	return nil
}
