package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/odvcencio/intest"

// Span attribute keys shared by the worker and the scheduler.
var (
	AttrWorkerID   = attribute.Key("intest.worker.id")
	AttrMacroID    = attribute.Key("intest.macro.id")
	AttrAction     = attribute.Key("intest.action")
	AttrEntries    = attribute.Key("intest.macro.entries")
	AttrQueueDepth = attribute.Key("intest.queue.depth")
)

// TracerProvider owns the process tracer provider. A nil *TracerProvider
// is valid and shuts down as a no-op.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// TracingOptions configures NewTracerProvider.
type TracingOptions struct {
	ServiceName string
	Version     string
	// Writer receives exported spans. Nil means stdout.
	Writer io.Writer
	Pretty bool
}

// NewTracerProvider installs a global tracer provider that exports spans as
// JSON to opts.Writer.
func NewTracerProvider(opts TracingOptions) (*TracerProvider, error) {
	var exportOpts []stdouttrace.Option
	if opts.Writer != nil {
		exportOpts = append(exportOpts, stdouttrace.WithWriter(opts.Writer))
	}
	if opts.Pretty {
		exportOpts = append(exportOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exportOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes pending spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the tracer used across the service. Until a provider is
// installed it is the global no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span under the global tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records err, if any, and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddEvent adds an event to the span carried by ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
