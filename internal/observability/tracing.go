// Package observability sets up OpenTelemetry trace export.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const shutdownTimeout = 5 * time.Second

// Setup configures the global tracer provider with an OTLP/HTTP exporter.
// When endpoint is empty, tracing stays disabled and the returned shutdown
// function is a no-op. The returned function flushes and stops the
// provider; call it during graceful shutdown.
func Setup(ctx context.Context, endpoint, serviceName string, logger *slog.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		logger.Debug("tracing disabled: no collector endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	// Emit one span right away so a misconfigured endpoint shows up in the
	// exporter logs at startup rather than on the first chat request.
	tracer := provider.Tracer("webrag-init")
	_, span := tracer.Start(ctx, "webrag.init")
	span.End()
	logger.Debug("startup verification span created")

	logger.Info("tracing enabled", "endpoint", endpoint, "service", serviceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down tracer provider: %w", err)
		}
		return nil
	}, nil
}
