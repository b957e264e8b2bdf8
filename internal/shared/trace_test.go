package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestTraceID_DefaultDash(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	ctx = WithTraceID(ctx, "abc")
	if got := TraceID(ctx); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestNewTraceID_IsUUID(t *testing.T) {
	id := NewTraceID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("trace id %q is not a uuid: %v", id, err)
	}
	if id == NewTraceID() {
		t.Fatal("expected distinct trace ids")
	}
}

func TestClientID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := ClientID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithClientID(ctx, "c1")
	if got := ClientID(ctx); got != "c1" {
		t.Fatalf("expected c1, got %q", got)
	}
}
