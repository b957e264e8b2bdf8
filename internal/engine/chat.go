package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/genie/internal/memory"
	"github.com/basket/genie/internal/otel"
	"github.com/basket/genie/internal/persistence"
	"github.com/basket/genie/internal/session"
	"github.com/basket/genie/internal/shared"
)

var (
	// ErrUnauthorized means the client_id/secret pair matched no device.
	ErrUnauthorized = errors.New("invalid client_id or secret")
	ErrEmptyMessage = errors.New("question is required")
)

// ChatStore is the storage the chat pipeline touches directly.
type ChatStore interface {
	Authenticate(ctx context.Context, clientID, secret string) (bool, error)
	AddChatTurn(ctx context.Context, clientID, role, content string) error
	ListChatTurns(ctx context.Context, clientID string, limit int) ([]persistence.ChatTurn, error)
}

// Broadcaster pushes a finished assistant reply to live chat sockets.
type Broadcaster interface {
	BroadcastChatResponse(ctx context.Context, content string)
}

type ChatConfig struct {
	MaxSteps         int
	HistoryLimit     int
	// HistoryMaxTokens trims the window to an estimated token budget. 0 disables it.
	HistoryMaxTokens int
}

// ChatService is the per-request pipeline: authenticate, persist the user
// turn, load the window, run the agent on the pool, persist the answer and
// broadcast it.
type ChatService struct {
	store       ChatStore
	model       Model
	invoker     Invoker
	pool        *Pool
	persona     *Persona
	cfg         ChatConfig
	broadcaster Broadcaster
	logger      *slog.Logger
	tel         *otel.Provider
}

type ChatDeps struct {
	Store       ChatStore
	Model       Model
	Invoker     Invoker
	Pool        *Pool
	Persona     *Persona
	Broadcaster Broadcaster
	Logger      *slog.Logger
	Telemetry   *otel.Provider
}

func NewChatService(deps ChatDeps, cfg ChatConfig) *ChatService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = memory.DefaultMaxTurns
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = otel.Noop()
	}
	if deps.Persona == nil {
		deps.Persona = NewPersona("")
	}
	return &ChatService{
		store:       deps.Store,
		model:       deps.Model,
		invoker:     deps.Invoker,
		pool:        deps.Pool,
		persona:     deps.Persona,
		cfg:         cfg,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger.With("component", "chat"),
		tel:         deps.Telemetry,
	}
}

// SetBroadcaster attaches the websocket hub after construction.
func (s *ChatService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Persona exposes the hot-reloadable system prompt.
func (s *ChatService) Persona() *Persona {
	return s.persona
}

// Chat answers question for the authenticated client.
func (s *ChatService) Chat(ctx context.Context, clientID, secret, question string) (answer string, err error) {
	start := time.Now()
	clientID = strings.TrimSpace(clientID)
	question = strings.TrimSpace(question)

	traceID := shared.TraceID(ctx)
	if traceID == "" || traceID == "-" {
		traceID = shared.NewTraceID()
	}
	scope := session.NewWithTrace(clientID, traceID)
	ctx = session.WithScope(ctx, scope)
	ctx, span := otel.StartSpan(ctx, s.tel.Tracer, "chat",
		otel.AttrClientID.String(clientID),
		otel.AttrTraceID.String(scope.TraceID()),
	)
	defer func() {
		s.tel.Metrics.ChatDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.tel.Metrics.ChatFailures.Add(ctx, 1, metric.WithAttributes(otel.AttrRoute.String("chat")))
		}
		otel.EndSpan(span, err)
	}()

	ok, err := s.store.Authenticate(ctx, clientID, secret)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	if !ok {
		s.logger.WarnContext(ctx, "chat rejected: bad credentials")
		return "", ErrUnauthorized
	}
	if question == "" {
		return "", ErrEmptyMessage
	}

	if err := s.store.AddChatTurn(ctx, clientID, persistence.RoleUser, question); err != nil {
		return "", fmt.Errorf("persist user turn: %w", err)
	}
	loader := memory.Loader{Source: s.store, Config: memory.WindowConfig{
		MaxTurns:  s.cfg.HistoryLimit,
		MaxTokens: s.cfg.HistoryMaxTokens,
	}}
	window, err := loader.Load(ctx, clientID)
	if err != nil {
		return "", err
	}
	s.logger.DebugContext(ctx, "window loaded", "turns", len(window.Turns), "dropped", window.Dropped, "tokens", window.TotalTokens)

	var (
		reply  string
		runErr error
	)
	submitErr := s.pool.Submit(ctx, func(runCtx context.Context) {
		orch := NewOrchestrator(s.model, s.invoker, s.persona.Prompt(), OrchestratorConfig{
			MaxSteps:  s.cfg.MaxSteps,
			Logger:    s.logger,
			Telemetry: s.tel,
		})
		reply, runErr = orch.Run(runCtx, scope, window.Turns)
		if runErr != nil {
			return
		}
		if runErr = s.store.AddChatTurn(runCtx, clientID, persistence.RoleAssistant, reply); runErr != nil {
			runErr = fmt.Errorf("persist assistant turn: %w", runErr)
			return
		}
		if s.broadcaster != nil {
			s.broadcaster.BroadcastChatResponse(runCtx, reply)
		}
	})
	if submitErr != nil {
		return "", fmt.Errorf("run agent: %w", submitErr)
	}
	if runErr != nil {
		s.logger.ErrorContext(ctx, "agent run failed", "error", runErr)
		return "", runErr
	}
	s.logger.InfoContext(ctx, "chat answered", "duration_ms", time.Since(start).Milliseconds())
	return reply, nil
}

// History returns the client's stored turns oldest first, after checking
// credentials.
func (s *ChatService) History(ctx context.Context, clientID, secret string, limit int) ([]persistence.ChatTurn, error) {
	ok, err := s.store.Authenticate(ctx, clientID, secret)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	return s.store.ListChatTurns(ctx, clientID, limit)
}
