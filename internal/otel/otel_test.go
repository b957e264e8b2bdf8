package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer == nil || p.Meter == nil || p.Metrics == nil {
		t.Fatalf("expected noop tracer, meter and metrics: %+v", p)
	}
	if p.TracerProvider != nil {
		t.Fatal("disabled provider should not build an sdk tracer provider")
	}
}

func TestNoop_ShutdownIsNil(t *testing.T) {
	if err := Noop().Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil Shutdown: %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none", SampleRate: 0.5})
	if err != nil {
		t.Fatalf("Init with none exporter: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.TracerProvider == nil {
		t.Fatal("expected non-nil TracerProvider")
	}
	_, span := StartSpan(context.Background(), p.Tracer, "genie.test", AttrClientID.String("c1"))
	span.End()
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer(TracerName)

	_, ok := StartServerSpan(context.Background(), tracer, "chat")
	EndSpan(ok, nil)
	_, bad := StartClientSpan(context.Background(), tracer, "model", AttrModel.String("deepseek-chat"))
	EndSpan(bad, errors.New("upstream 500"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatal("successful span marked as error")
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "upstream 500" {
		t.Fatalf("status = %+v", spans[1].Status())
	}
}
