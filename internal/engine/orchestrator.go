package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/genie/internal/memory"
	"github.com/basket/genie/internal/otel"
	"github.com/basket/genie/internal/persistence"
	"github.com/basket/genie/internal/session"
	"github.com/basket/genie/internal/tools"
)

// DefaultMaxSteps bounds the decide-act iterations of one run.
const DefaultMaxSteps = 25

// ErrStepCeiling is returned when the model keeps requesting tools past
// MaxSteps. No assistant turn is produced.
var ErrStepCeiling = errors.New("agent step ceiling exceeded")

// Invoker executes capabilities for a caller. *tools.Registry satisfies it.
type Invoker interface {
	Specs() []tools.Spec
	Invoke(ctx context.Context, scope *session.Scope, name string, args json.RawMessage) string
}

type OrchestratorConfig struct {
	MaxSteps  int
	Logger    *slog.Logger
	Telemetry *otel.Provider
}

// Orchestrator drives one agent run. It is built per chat request and holds
// no state between runs.
type Orchestrator struct {
	model   Model
	invoker Invoker
	system  string
	cfg     OrchestratorConfig
	logger  *slog.Logger
	tel     *otel.Provider
}

func NewOrchestrator(model Model, invoker Invoker, system string, cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = otel.Noop()
	}
	return &Orchestrator{
		model:   model,
		invoker: invoker,
		system:  system,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "orchestrator"),
		tel:     cfg.Telemetry,
	}
}

// Run answers the last user turn in window. Tool calls are executed in the
// order the model emits them, each under scope, and their results are fed
// back until the model replies with text.
func (o *Orchestrator) Run(ctx context.Context, scope *session.Scope, window []memory.Turn) (answer string, err error) {
	clientID, err := scope.Require()
	if err != nil {
		return "", err
	}
	ctx, span := otel.StartSpan(ctx, o.tel.Tracer, "orchestrator.run",
		otel.AttrClientID.String(clientID),
		otel.AttrTraceID.String(scope.TraceID()),
	)
	o.tel.Metrics.ActiveOrchestrators.Add(ctx, 1)
	defer func() {
		o.tel.Metrics.ActiveOrchestrators.Add(ctx, -1)
		otel.EndSpan(span, err)
	}()

	msgs := make([]Message, 0, len(window)+4)
	for _, t := range window {
		msgs = append(msgs, Message{Role: turnRole(t.Role), Content: t.Content})
	}
	specs := o.invoker.Specs()

	for step := 1; step <= o.cfg.MaxSteps; step++ {
		o.tel.Metrics.OrchestratorSteps.Add(ctx, 1)
		resp, err := o.generate(ctx, step, Request{System: o.system, Messages: msgs, Tools: specs})
		if err != nil {
			return "", fmt.Errorf("model step %d: %w", step, err)
		}
		if len(resp.ToolCalls) == 0 {
			o.logger.DebugContext(ctx, "run finished", "steps", step)
			return resp.Text, nil
		}

		msgs = append(msgs, Message{Role: RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result := o.invoker.Invoke(ctx, scope, call.Name, call.Arguments)
			o.logger.DebugContext(ctx, "capability result", "step", step, "capability", call.Name, "bytes", len(result))
			msgs = append(msgs, Message{Role: RoleTool, Content: result, ToolCallID: call.ID, Name: call.Name})
		}
	}

	o.tel.Metrics.StepCeilingHits.Add(ctx, 1)
	o.logger.WarnContext(ctx, "step ceiling reached", "max_steps", o.cfg.MaxSteps)
	return "", ErrStepCeiling
}

func (o *Orchestrator) generate(ctx context.Context, step int, req Request) (*Response, error) {
	ctx, span := otel.StartClientSpan(ctx, o.tel.Tracer, "model.generate", otel.AttrStep.Int(step))
	start := time.Now()
	resp, err := o.model.Generate(ctx, req)
	o.tel.Metrics.ModelCallDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && resp == nil {
		err = errors.New("empty model response")
	}
	if err != nil {
		o.logger.WarnContext(ctx, "model call failed", "step", step, "class", ClassifyError(err), "error", err)
	}
	otel.EndSpan(span, err)
	return resp, err
}

func turnRole(role string) Role {
	if role == persistence.RoleAssistant {
		return RoleAssistant
	}
	return RoleUser
}
