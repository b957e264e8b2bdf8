// Package memory turns persisted chat history into the bounded context
// window replayed to the model on each turn.
package memory

import (
	"context"
	"fmt"

	"github.com/basket/genie/internal/persistence"
)

const DefaultMaxTurns = 20

// WindowConfig controls how much history is replayed.
type WindowConfig struct {
	MaxTurns  int // newest turns kept (default 20)
	MaxTokens int // optional token ceiling; 0 disables it
}

// DefaultWindowConfig returns the 20-turn window with no token ceiling.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{MaxTurns: DefaultMaxTurns}
}

// Turn is one message of the replayed conversation.
type Turn struct {
	Role    string
	Content string
}

// WindowResult is the output of BuildWindow.
type WindowResult struct {
	Turns       []Turn // oldest first
	TotalTokens int
	Dropped     int // older turns left out
}

// BuildWindow keeps the newest turns that fit cfg, in their original
// oldest-first order. The newest turn is always kept.
func BuildWindow(turns []Turn, cfg WindowConfig) WindowResult {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if len(turns) == 0 {
		return WindowResult{Turns: []Turn{}}
	}

	start := len(turns)
	total := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if len(turns)-i > cfg.MaxTurns {
			break
		}
		cost := EstimateTokens(turns[i].Content)
		if cfg.MaxTokens > 0 && total+cost > cfg.MaxTokens && i != len(turns)-1 {
			break
		}
		total += cost
		start = i
	}

	kept := make([]Turn, len(turns)-start)
	copy(kept, turns[start:])
	return WindowResult{
		Turns:       kept,
		TotalTokens: total,
		Dropped:     start,
	}
}

// TurnSource reads the newest turns of a client in ascending order.
type TurnSource interface {
	ListChatTurns(ctx context.Context, clientID string, limit int) ([]persistence.ChatTurn, error)
}

// Loader builds windows from storage.
type Loader struct {
	Source TurnSource
	Config WindowConfig
}

// Load reads at most Config.MaxTurns turns for clientID and windows them.
func (l *Loader) Load(ctx context.Context, clientID string) (WindowResult, error) {
	cfg := l.Config
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	rows, err := l.Source.ListChatTurns(ctx, clientID, cfg.MaxTurns)
	if err != nil {
		return WindowResult{}, fmt.Errorf("load chat window: %w", err)
	}
	turns := make([]Turn, 0, len(rows))
	for _, r := range rows {
		turns = append(turns, Turn{Role: r.Role, Content: r.Content})
	}
	return BuildWindow(turns, cfg), nil
}
