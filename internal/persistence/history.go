package persistence

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one persisted message of a client's conversation.
type ChatTurn struct {
	ID        int64     `json:"-"`
	ClientID  string    `json:"-"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"-"`
}

// AddChatTurn appends a user or assistant turn.
func (s *Store) AddChatTurn(ctx context.Context, clientID, role, content string) error {
	return s.addChatTurnAt(ctx, clientID, role, content, now())
}

func (s *Store) addChatTurnAt(ctx context.Context, clientID, role, content string, at time.Time) error {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid role %q", role)
	}
	_, err := s.exec(ctx, `
		INSERT INTO chat_history (client_id, role, content, timestamp)
		VALUES (?, ?, ?, ?);
	`, clientID, role, content, at.UTC())
	if err != nil {
		return fmt.Errorf("insert chat turn: %w", err)
	}
	return nil
}

// MaxChatTurns caps one history read.
const MaxChatTurns = 1000

// ListChatTurns returns the newest limit turns of clientID in ascending
// (timestamp, id) order. A non-positive limit reads 100 turns; larger limits
// are capped at MaxChatTurns.
func (s *Store) ListChatTurns(ctx context.Context, clientID string, limit int) ([]ChatTurn, error) {
	switch {
	case limit <= 0:
		limit = 100
	case limit > MaxChatTurns:
		limit = MaxChatTurns
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, client_id, role, content, timestamp
		FROM chat_history
		WHERE client_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?;
	`), clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	out := []ChatTurn{}
	for rows.Next() {
		var turn ChatTurn
		if err := rows.Scan(&turn.ID, &turn.ClientID, &turn.Role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat history rows: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}
