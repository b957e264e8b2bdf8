// Package tools holds the fixed catalog of capabilities the agent may call.
// Every invocation is scoped to the caller carried by a *session.Scope and
// every capability validates its arguments against a JSON Schema before the
// handler runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/genie/internal/bus"
	"github.com/basket/genie/internal/otel"
	"github.com/basket/genie/internal/persistence"
	"github.com/basket/genie/internal/session"
)

// UnscopedText is returned to the model when a call carries no caller.
const UnscopedText = "Error: unscoped call."

// Args are the decoded, schema-validated arguments of one call. Numbers
// arrive as json.Number.
type Args map[string]any

// String returns the string argument key or "".
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the integer argument key, accepting numbers and numeric
// strings, or def when absent.
func (a Args) Int(key string, def int64) (int64, error) {
	switch v := a[key].(type) {
	case nil:
		return def, nil
	case json.Number:
		return v.Int64()
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}

// HandlerFunc performs one capability for the caller in scope. The returned
// text goes back to the model verbatim.
type HandlerFunc func(ctx context.Context, scope *session.Scope, args Args) (string, error)

// Capability is one named entry of the catalog.
type Capability struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     HandlerFunc
}

// Spec is the model-facing description of a capability.
type Spec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Store is the storage surface capabilities use.
type Store interface {
	AddCalendarEvent(ctx context.Context, clientID, title, start, end string) (int64, error)
	RemoveCalendarEvent(ctx context.Context, clientID, title string) (int64, error)
	ListCalendarEvents(ctx context.Context, clientID string) ([]persistence.CalendarEvent, error)
	AddObjective(ctx context.Context, clientID, title, description string) (int64, error)
	AddTask(ctx context.Context, clientID string, objectiveID int64, title string, weight int) (int64, bool, error)
	ListObjectives(ctx context.Context, clientID string) ([]persistence.Objective, error)
	RemoveObjective(ctx context.Context, clientID string, objectiveID int64) (bool, error)
	RemoveTask(ctx context.Context, clientID string, taskID int64) (bool, error)
	CompleteTask(ctx context.Context, clientID string, taskID int64) (bool, error)
	CompleteObjective(ctx context.Context, clientID string, objectiveID int64) (bool, error)
	Stats(ctx context.Context, clientID string) (persistence.ClientStats, error)
}

// Notifier receives calendar change notifications.
type Notifier interface {
	Publish(n bus.Notification) int
}

// Deps wires the registry to its collaborators. Store is required.
type Deps struct {
	Store     Store
	Notifier  Notifier
	Clock     func() time.Time
	Logger    *slog.Logger
	Telemetry *otel.Provider
}

type entry struct {
	cap    Capability
	schema *jsonschema.Schema
}

// Registry is the immutable capability table. It is safe for concurrent use.
type Registry struct {
	entries map[string]entry
	order   []string
	logger  *slog.Logger
	tel     *otel.Provider
}

// NewRegistry builds the built-in catalog over deps.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("tools: store is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return newRegistry(builtinCapabilities(deps), deps.Logger, deps.Telemetry)
}

func newRegistry(caps []Capability, logger *slog.Logger, tel *otel.Provider) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tel == nil {
		tel = otel.Noop()
	}
	r := &Registry{
		entries: make(map[string]entry, len(caps)),
		logger:  logger.With("component", "tools"),
		tel:     tel,
	}
	for _, c := range caps {
		if _, dup := r.entries[c.Name]; dup {
			return nil, fmt.Errorf("duplicate capability %q", c.Name)
		}
		sch, err := compileSchema(c.Name, c.Schema)
		if err != nil {
			return nil, err
		}
		r.entries[c.Name] = entry{cap: c, schema: sch}
		r.order = append(r.order, c.Name)
	}
	return r, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema for %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	url := name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return sch, nil
}

// Specs returns the catalog in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		c := r.entries[name].cap
		out = append(out, Spec{Name: c.Name, Description: c.Description, Schema: c.Schema})
	}
	return out
}

// Names returns the capability names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Invoke runs capability name for the caller in scope and returns the text
// handed back to the model. It never panics and never returns an error:
// failures become "Error: ..." text.
func (r *Registry) Invoke(ctx context.Context, scope *session.Scope, name string, rawArgs json.RawMessage) (out string) {
	e, ok := r.entries[name]
	if !ok {
		return fmt.Sprintf("Error: unknown capability %s.", name)
	}
	clientID, err := scope.Require()
	if err != nil {
		r.logger.WarnContext(ctx, "unscoped capability call", "capability", name)
		return UnscopedText
	}

	ctx, span := otel.StartSpan(ctx, r.tel.Tracer, "capability."+name,
		otel.AttrCapability.String(name),
		otel.AttrClientID.String(clientID),
	)
	attrs := metric.WithAttributes(otel.AttrCapability.String(name))
	r.tel.Metrics.CapabilityCalls.Add(ctx, 1, attrs)
	var failure error
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "capability panicked", "capability", name, "panic", fmt.Sprint(p))
			failure = fmt.Errorf("panic: %v", p)
			out = fmt.Sprintf("Error: capability %s failed.", name)
		}
		if strings.HasPrefix(out, "Error:") {
			r.tel.Metrics.CapabilityErrors.Add(ctx, 1, attrs)
		}
		otel.EndSpan(span, failure)
	}()

	args, err := parseArgs(e.schema, rawArgs)
	if err != nil {
		return fmt.Sprintf("Error: invalid arguments for %s: %s", name, err)
	}
	text, err := e.cap.Handler(ctx, scope, args)
	if err != nil {
		failure = err
		r.logger.WarnContext(ctx, "capability failed", "capability", name, "error", err)
		return "Error: " + err.Error()
	}
	r.logger.DebugContext(ctx, "capability invoked", "capability", name)
	return text
}

func parseArgs(sch *jsonschema.Schema, raw json.RawMessage) (Args, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := sch.Validate(parsed); err != nil {
		return nil, err
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be an object")
	}
	return Args(obj), nil
}
