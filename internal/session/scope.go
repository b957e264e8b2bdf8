// Package session carries the authenticated caller's identity through a
// single agent invocation.
//
// A Scope is created by the chat pipeline after the credential check and is
// handed explicitly to the orchestrator, which passes it to every capability
// call. There is no package-level identity: two invocations for different
// clients hold different *Scope values and cannot observe each other.
package session

import (
	"context"
	"errors"
	"strings"

	"github.com/basket/genie/internal/shared"
)

// ErrUnscoped is returned when a capability is invoked without a bound identity.
var ErrUnscoped = errors.New("unscoped call")

// Scope is the request-scoped binding of "current caller".
// It is immutable after construction.
type Scope struct {
	clientID string
	traceID  string
}

// New binds clientID to a fresh scope with its own trace id.
func New(clientID string) *Scope {
	return &Scope{
		clientID: strings.TrimSpace(clientID),
		traceID:  shared.NewTraceID(),
	}
}

// NewWithTrace binds clientID and an existing trace id (e.g. the inbound request's).
func NewWithTrace(clientID, traceID string) *Scope {
	if traceID == "" || traceID == "-" {
		traceID = shared.NewTraceID()
	}
	return &Scope{clientID: strings.TrimSpace(clientID), traceID: traceID}
}

// ClientID returns the bound identity, or "" for a nil scope.
func (s *Scope) ClientID() string {
	if s == nil {
		return ""
	}
	return s.clientID
}

// TraceID returns the trace id associated with this invocation.
func (s *Scope) TraceID() string {
	if s == nil {
		return "-"
	}
	return s.traceID
}

// Require returns the bound client id or ErrUnscoped.
func (s *Scope) Require() (string, error) {
	id := s.ClientID()
	if id == "" {
		return "", ErrUnscoped
	}
	return id, nil
}

type scopeKey struct{}

// WithScope attaches scope to ctx so code reached through third-party
// callbacks (e.g. genkit tool functions) can recover it.
func WithScope(ctx context.Context, scope *Scope) context.Context {
	ctx = context.WithValue(ctx, scopeKey{}, scope)
	if scope != nil {
		ctx = shared.WithTraceID(ctx, scope.traceID)
		ctx = shared.WithClientID(ctx, scope.clientID)
	}
	return ctx
}

// FromContext extracts the scope attached by WithScope.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}
