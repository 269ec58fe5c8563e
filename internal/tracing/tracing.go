package tracing

import (
	"context"
	"fmt"

	"github.com/deepchat-dev/deepchat/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Init installs the global tracer provider, exporting spans over
// OTLP/HTTP to the configured backend. The credentials travel as
// request headers; TRACE_ENDPOINT overrides the exporter's default
// collector address. The returned shutdown flushes buffered spans.
func Init(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithHeaders(map[string]string{
			"Authorization":     "Bearer " + cfg.TraceAPIKey,
			"X-Trace-Project":   cfg.TraceProject,
			"X-Trace-Workspace": cfg.TraceWorkspace,
		}),
	}
	if cfg.TraceEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.TraceEndpoint))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "deepchat"),
			attribute.String("project", cfg.TraceProject),
			attribute.String("workspace", cfg.TraceWorkspace),
		)),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
