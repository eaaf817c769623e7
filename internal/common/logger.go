package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

var (
	// Log is the app global logger
	Log = slog.Default()
)

// InitLogger initializes the app global logger. Records are written as text to w and,
// when exporterEndpoint is not empty, also shipped through OTLP.
func InitLogger(w io.Writer, level, serviceName, serviceVersion, serviceEnvironment, exporterEndpoint string) (func(ctx context.Context) error, error) {

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	textHandler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})

	if exporterEndpoint == "" {
		Log = slog.New(textHandler)
		return func(context.Context) error { return nil }, nil
	}

	logExporter, err := otlploggrpc.New(context.Background(),
		otlploggrpc.WithEndpoint(exporterEndpoint),
		otlploggrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to otlploggrpc.New: %w", err)
	}

	lp := log.NewLoggerProvider(
		log.WithProcessor(
			log.NewBatchProcessor(logExporter),
		),
		log.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.DeploymentEnvironmentNameKey.String(serviceEnvironment))),
	)

	Log = slog.New(slogmulti.Fanout(
		otelslog.NewHandler("github.com/ogero/stt-models", otelslog.WithLoggerProvider(lp)),
		textHandler,
	))

	return lp.Shutdown, nil
}

// ParseLevel maps debug, info, warn and error to their slog level.
func ParseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("failed to parse log level %q: %w", level, err)
	}
	return lvl, nil
}
