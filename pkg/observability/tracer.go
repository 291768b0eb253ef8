// Tracer provider setup, the way hector's pkg/observability.Manager wires
// tracing for its own agent/LLM call path — trimmed to the two exporters
// Cubicler actually needs (stdout for local debugging, OTLP/gRPC for a real
// collector) since metrics backends are an external collaborator of the
// core (spec.md §1).
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracer provider.
type Config struct {
	Enabled      bool
	Exporter     string // "stdout" | "otlp"
	Endpoint     string // OTLP collector address, e.g. "localhost:4317"
	ServiceName  string
	SamplingRate float64
}

// Manager owns the tracer provider's lifecycle.
type Manager struct {
	provider *sdktrace.TracerProvider
}

// Start builds and installs the global tracer provider per cfg. A disabled
// config installs nothing and leaves otel's global provider as it is (the
// no-op default unless one was set elsewhere), so every call site can still
// unconditionally fetch a tracer.
func Start(ctx context.Context, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{}, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "cubicler"
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(provider)

	return &Manager{provider: provider}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
}

// Tracer returns the named tracer from whatever provider is currently
// installed (real or no-op).
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Shutdown flushes and stops the tracer provider, if one was started.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
