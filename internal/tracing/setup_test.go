package tracing

import (
	"context"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type shutdownCounter struct {
	*tracetest.InMemoryExporter
	shutdowns atomic.Int32
}

func (c *shutdownCounter) Shutdown(ctx context.Context) error {
	c.shutdowns.Add(1)
	return c.InMemoryExporter.Shutdown(ctx)
}

func TestInstall_ResourceErrorShutsDownExporter(t *testing.T) {
	// A pair without "=" is rejected by the environment detector.
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "novalue")
	exporter := &shutdownCounter{InMemoryExporter: tracetest.NewInMemoryExporter()}

	tp, shutdown, err := install(context.Background(), exporter, "wfstore-test")
	if err == nil {
		t.Fatal("expected resource error")
	}
	if tp != nil || shutdown != nil {
		t.Fatalf("expected no provider on error, got %v", tp)
	}
	if got := exporter.shutdowns.Load(); got != 1 {
		t.Fatalf("expected exporter shut down once, got %d", got)
	}
}

func TestInstall_ShutdownStopsExporter(t *testing.T) {
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "")
	exporter := &shutdownCounter{InMemoryExporter: tracetest.NewInMemoryExporter()}

	tp, shutdown, err := install(context.Background(), exporter, "wfstore-test")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if got := exporter.shutdowns.Load(); got != 1 {
		t.Fatalf("expected exporter shut down once, got %d", got)
	}
}
