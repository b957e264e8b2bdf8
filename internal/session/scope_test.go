package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/basket/genie/internal/shared"
)

func TestScope_Require(t *testing.T) {
	if _, err := (*Scope)(nil).Require(); !errors.Is(err, ErrUnscoped) {
		t.Fatalf("nil scope: expected ErrUnscoped, got %v", err)
	}
	if _, err := New("   ").Require(); !errors.Is(err, ErrUnscoped) {
		t.Fatalf("blank scope: expected ErrUnscoped, got %v", err)
	}
	id, err := New("c1").Require()
	if err != nil || id != "c1" {
		t.Fatalf("Require() = %q, %v", id, err)
	}
}

func TestScope_NilAccessors(t *testing.T) {
	var s *Scope
	if s.ClientID() != "" {
		t.Fatalf("nil ClientID = %q", s.ClientID())
	}
	if s.TraceID() != "-" {
		t.Fatalf("nil TraceID = %q", s.TraceID())
	}
}

func TestNewWithTrace_KeepsInboundTrace(t *testing.T) {
	s := NewWithTrace("c1", "trace-123")
	if s.TraceID() != "trace-123" {
		t.Fatalf("TraceID = %q", s.TraceID())
	}
	if NewWithTrace("c1", "-").TraceID() == "-" {
		t.Fatal("placeholder trace id should be replaced")
	}
}

func TestWithScope_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Fatal("expected no scope on empty context")
	}
	s := New("c1")
	ctx = WithScope(ctx, s)
	got, ok := FromContext(ctx)
	if !ok || got != s {
		t.Fatalf("FromContext = %v, %v", got, ok)
	}
	if shared.TraceID(ctx) != s.TraceID() {
		t.Fatalf("trace id not propagated: %q vs %q", shared.TraceID(ctx), s.TraceID())
	}
	if shared.ClientID(ctx) != "c1" {
		t.Fatalf("client id not propagated: %q", shared.ClientID(ctx))
	}
}

func TestWithScope_NilScopeNotFound(t *testing.T) {
	ctx := WithScope(context.Background(), nil)
	if _, ok := FromContext(ctx); ok {
		t.Fatal("nil scope should not be reported as bound")
	}
}

func TestScope_ConcurrentIsolation(t *testing.T) {
	parent := context.Background()
	var wg sync.WaitGroup
	errs := make(chan string, 200)
	for i := 0; i < 100; i++ {
		for _, id := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				ctx := WithScope(parent, New(id))
				got, ok := FromContext(ctx)
				if !ok || got.ClientID() != id {
					errs <- id + " observed " + got.ClientID()
				}
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}
