package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	if p.Tracer() == nil {
		t.Fatal("tracer should not be nil even when disabled")
	}

	ctx, span := p.StartIndexRun(context.Background(), 3)
	if ctx == nil {
		t.Fatal("context should not be nil")
	}
	span.End()
}

func TestInitExporterNone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "none"

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	if p.Tracer() == nil {
		t.Fatal("tracer should not be nil")
	}
}

func TestInitExporterStdout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	if p.tp == nil {
		t.Fatal("TracerProvider should not be nil for stdout exporter")
	}
}

func TestInitInvalidExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "invalid"

	if _, err := Init(context.Background(), cfg); err == nil {
		t.Fatal("expected error for invalid exporter")
	}
}

func TestShutdownNilProvider(t *testing.T) {
	p := &Provider{tracer: noop.NewTracerProvider().Tracer(tracerName)}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown should not error on nil provider: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Error("tracing should be disabled by default")
	}
	if cfg.Exporter != "otlp" {
		t.Errorf("expected default exporter otlp, got %s", cfg.Exporter)
	}
	if cfg.ServiceName != "mcprouter" {
		t.Errorf("expected default service name mcprouter, got %s", cfg.ServiceName)
	}
}

func TestSpanHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx := context.Background()
	tests := []struct {
		name string
		fn   func() (context.Context, trace.Span)
	}{
		{"StartIndexRun", func() (context.Context, trace.Span) { return p.StartIndexRun(ctx, 3) }},
		{"StartServerTask", func() (context.Context, trace.Span) { return p.StartServerTask(ctx, "fs") }},
		{"StartSearch", func() (context.Context, trace.Span) { return p.StartSearch(ctx, "read a file") }},
		{"StartCall", func() (context.Context, trace.Span) { return p.StartCall(ctx, "read_file", "fs") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, span := tt.fn()
			if c == nil {
				t.Error("context should not be nil")
			}
			if span == nil {
				t.Error("span should not be nil")
			}
			span.End()
		})
	}
}

func TestRecordIndexResult(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	_, span := p.StartIndexRun(context.Background(), 3)
	RecordIndexResult(span, 10, 2, 12*time.Millisecond)
	span.End()
}

func TestRecordError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	_, span := p.StartSearch(context.Background(), "q")
	RecordError(span, fmt.Errorf("test error"))
	span.End()
}
