// Package telemetry provides OpenTelemetry distributed tracing for
// mcprouter, instrumenting the indexing run, the per-server indexing task,
// and the search/call operators with spans.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mcprouter/mcprouter"

// Config holds tracing configuration.
type Config struct {
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	SampleRate float64

	ServiceName string
	Insecure    bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "mcprouter",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes mcprouter span helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config. The returned
// Provider must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: trace.NewNoopTracerProvider().Tracer(tracerName)}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{tracer: trace.NewNoopTracerProvider().Tracer(tracerName)}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(tracerName)}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the mcprouter tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// StartIndexRun creates a root span for a full indexing run.
func (p *Provider) StartIndexRun(ctx context.Context, serverCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "mcprouter.index_run",
		trace.WithAttributes(attribute.Int("mcprouter.index_run.server_count", serverCount)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerTask creates a span for one per-server indexing task.
func (p *Provider) StartServerTask(ctx context.Context, server string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "mcprouter.index_server",
		trace.WithAttributes(attribute.String("mcprouter.server", server)),
	)
}

// StartSearch creates a span for an mcp_search call.
func (p *Provider) StartSearch(ctx context.Context, query string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "mcprouter.search",
		trace.WithAttributes(attribute.String("mcprouter.search.query", query)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartCall creates a span for an mcp_call dispatch.
func (p *Provider) StartCall(ctx context.Context, toolName, server string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "mcprouter.call",
		trace.WithAttributes(
			attribute.String("mcprouter.call.tool", toolName),
			attribute.String("mcprouter.call.server", server),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// RecordIndexResult adds result attributes to an index-run span.
func RecordIndexResult(span trace.Span, indexed, failed int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("mcprouter.index_run.indexed", indexed),
		attribute.Int("mcprouter.index_run.failed", failed),
		attribute.Int64("mcprouter.index_run.duration_ms", duration.Milliseconds()),
	)
}

// RecordSearchResult adds result attributes to a search span.
func RecordSearchResult(span trace.Span, count int) {
	span.SetAttributes(attribute.Int("mcprouter.search.result_count", count))
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
