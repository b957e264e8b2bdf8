package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/basket/genie/internal/session"
	"github.com/basket/genie/internal/tools"
)

const (
	ProviderOpenAICompatible = "openai_compatible"
	ProviderOpenAI           = "openai"
	ProviderAnthropic        = "anthropic"
	ProviderGoogle           = "google"

	defaultCompatBaseURL  = "https://api.deepseek.com"
	defaultCompatProvider = "deepseek"

	// OfflineReply is returned when no provider key is configured.
	OfflineReply = "I can plan with you properly once an LLM API key is configured."
)

// GenkitConfig selects the provider behind GenkitModel.
type GenkitConfig struct {
	Provider     string
	Model        string
	BaseURL      string
	ProviderName string
	APIKey       string
	Temperature  float64
}

// GenkitModel adapts a genkit instance to Model. Capabilities are defined
// once as genkit tools; requests ask genkit to return tool requests instead
// of running them, so the orchestrator keeps control of the loop.
type GenkitModel struct {
	g         *genkit.Genkit
	modelName string
	cfg       GenkitConfig
	llmOn     bool
	tools     map[string]ai.ToolRef
	logger    *slog.Logger
}

// NewGenkitModel initializes genkit for cfg.Provider and registers every
// capability of invoker as a tool.
func NewGenkitModel(ctx context.Context, cfg GenkitConfig, invoker Invoker, logger *slog.Logger) *GenkitModel {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "model")
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAICompatible
	}
	cfg.Provider = provider
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := apiKey != ""
	switch {
	case !llmOn:
		g = genkit.Init(ctx)
		logger.Warn("LLM API key missing; using offline reply", "provider", provider)
	case provider == ProviderAnthropic:
		g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
			APIKey:  apiKey,
			BaseURL: firstNonEmpty(cfg.BaseURL, os.Getenv("ANTHROPIC_BASE_URL")),
		}))
	case provider == ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openai",
			APIKey:   apiKey,
			BaseURL:  firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL")),
		}))
	case provider == ProviderOpenAICompatible:
		if cfg.ProviderName == "" {
			cfg.ProviderName = defaultCompatProvider
		}
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: cfg.ProviderName,
			APIKey:   apiKey,
			BaseURL:  firstNonEmpty(cfg.BaseURL, defaultCompatBaseURL),
		}))
	case provider == ProviderGoogle:
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	default:
		g = genkit.Init(ctx)
		llmOn = false
		logger.Warn("unknown LLM provider; using offline reply", "provider", provider)
	}

	m := &GenkitModel{
		g:         g,
		modelName: modelNameForProvider(provider, cfg.ProviderName, cfg.Model),
		cfg:       cfg,
		llmOn:     llmOn,
		tools:     map[string]ai.ToolRef{},
		logger:    logger,
	}
	if invoker != nil {
		m.defineTools(invoker)
	}
	if llmOn {
		logger.Info("genkit model initialized", "provider", provider, "model", m.modelName, "tools", len(m.tools))
	}
	return m
}

// defineTools registers each capability with genkit under its declared JSON
// Schema. The tool body runs the capability for the scope found on the
// context; with tool requests returned to the caller it is only reached if
// genkit resolves a call itself.
func (m *GenkitModel) defineTools(invoker Invoker) {
	for _, spec := range invoker.Specs() {
		name := spec.Name
		m.tools[name] = genkit.DefineTool(m.g, name, spec.Description,
			func(ctx *ai.ToolContext, input any) (any, error) {
				scope, _ := session.FromContext(ctx)
				raw, err := json.Marshal(input)
				if err != nil {
					return nil, fmt.Errorf("encode %s arguments: %w", name, err)
				}
				return invoker.Invoke(ctx, scope, name, raw), nil
			},
			ai.WithInputSchema(inputSchema(spec, m.logger)),
		)
	}
}

// inputSchema decodes the capability schema for genkit. A missing or
// malformed schema degrades to an empty object.
func inputSchema(spec tools.Spec, logger *slog.Logger) map[string]any {
	schema := map[string]any{}
	if len(spec.Schema) > 0 {
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			logger.Warn("capability schema is not a JSON object", "capability", spec.Name, "error", err)
			schema = map[string]any{}
		}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

// ModelName reports the provider-qualified model id.
func (m *GenkitModel) ModelName() string {
	return m.modelName
}

// Online reports whether a provider key is configured.
func (m *GenkitModel) Online() bool {
	return m.llmOn
}

func (m *GenkitModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if !m.llmOn {
		return &Response{Text: OfflineReply}, nil
	}
	opts := []ai.GenerateOption{
		ai.WithModelName(m.modelName),
		ai.WithReturnToolRequests(true),
	}
	if sys := strings.TrimSpace(req.System); sys != "" {
		// WithSystem formats its argument.
		opts = append(opts, ai.WithSystem(strings.ReplaceAll(sys, "%", "%%")))
	}
	if msgs := toGenkitMessages(req.Messages); len(msgs) > 0 {
		opts = append(opts, ai.WithMessages(msgs...))
	}
	if refs := m.toolRefs(req.Tools); len(refs) > 0 {
		opts = append(opts, ai.WithTools(refs...))
	}
	if m.cfg.Temperature > 0 {
		opts = append(opts, ai.WithConfig(map[string]any{"temperature": m.cfg.Temperature}))
	}

	resp, err := genkit.Generate(ctx, m.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("genkit generate: %w", err)
	}
	out := &Response{}
	for _, tr := range resp.ToolRequests() {
		args, err := json.Marshal(tr.Input)
		if err != nil {
			return nil, fmt.Errorf("encode tool request %s: %w", tr.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tr.Ref, Name: tr.Name, Arguments: args})
	}
	out.Text = resp.Text()
	return out, nil
}

func (m *GenkitModel) toolRefs(specs []tools.Spec) []ai.ToolRef {
	refs := make([]ai.ToolRef, 0, len(specs))
	for _, s := range specs {
		if ref, ok := m.tools[s.Name]; ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

func toGenkitMessages(msgs []Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleAssistant:
			parts := []*ai.Part{}
			if msg.Content != "" {
				parts = append(parts, ai.NewTextPart(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input map[string]any
				if len(call.Arguments) > 0 {
					_ = json.Unmarshal(call.Arguments, &input)
				}
				parts = append(parts, ai.NewToolRequestPart(&ai.ToolRequest{Name: call.Name, Ref: call.ID, Input: input}))
			}
			out = append(out, &ai.Message{Role: ai.RoleModel, Content: parts})
		case RoleTool:
			out = append(out, &ai.Message{Role: ai.RoleTool, Content: []*ai.Part{
				ai.NewToolResponsePart(&ai.ToolResponse{Name: msg.Name, Ref: msg.ToolCallID, Output: msg.Content}),
			}})
		default:
			out = append(out, &ai.Message{Role: ai.RoleUser, Content: []*ai.Part{ai.NewTextPart(msg.Content)}})
		}
	}
	return out
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderGoogle:
		return "gemini-2.5-flash"
	default:
		return "deepseek-chat"
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderOpenAICompatible:
		return os.Getenv("DEEPSEEK_API_KEY")
	case ProviderGoogle:
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func modelNameForProvider(provider, providerName, model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	switch provider {
	case ProviderAnthropic:
		return "anthropic/" + model
	case ProviderOpenAI:
		return "openai/" + model
	case ProviderGoogle:
		return "googleai/" + model
	default:
		if strings.Contains(model, "/") {
			return model
		}
		if providerName == "" {
			providerName = defaultCompatProvider
		}
		return providerName + "/" + model
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
