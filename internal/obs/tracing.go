package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracing owns a process-wide TracerProvider with no exporter registered
// (spans are sampled and built but not shipped anywhere) — the SDK is
// still real otel, giving every core operation a genuine trace.Span with
// attributes and timing, which is what the rest of this package
// instruments against. NewTracing installs its provider with
// otel.SetTracerProvider, replacing any global provider set before it; a
// provider installed after NewTracing replaces this one in turn.
type Tracing struct {
	provider *sdktrace.TracerProvider
}

// NewTracing constructs a TracerProvider tagged with the service name and
// installs it as the global provider, mirroring contextd's
// internal/telemetry.New resource-then-provider sequencing.
func NewTracing(ctx context.Context, serviceName string) (*Tracing, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		res = resource.Default()
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return &Tracing{provider: tp}, nil
}

// Tracer returns a named tracer, grounded on contextd's Telemetry.Tracer.
func (t *Tracing) Tracer(name string) trace.Tracer {
	if t == nil || t.provider == nil {
		return otel.GetTracerProvider().Tracer(name)
	}
	return t.provider.Tracer(name)
}

// Shutdown flushes and releases the tracer provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
