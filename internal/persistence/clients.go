package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ClientStats is the gamification summary of one client.
type ClientStats struct {
	XPScore                  int `json:"xp_score"`
	TasksCompletedCount      int `json:"tasks_completed_count"`
	ObjectivesCompletedCount int `json:"objectives_completed_count"`
}

// RegisterDevice creates the client or replaces its secret.
func (s *Store) RegisterDevice(ctx context.Context, clientID, secret string) error {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" || secret == "" {
		return errors.New("client_id and secret are required")
	}
	_, err := s.exec(ctx, `
		INSERT INTO clients (client_id, secret, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET secret = excluded.secret;
	`, clientID, secret, now())
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// CountCredentials returns how many clients match the pair (0 or 1).
func (s *Store) CountCredentials(ctx context.Context, clientID, secret string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM clients WHERE client_id = ? AND secret = ?;`),
		clientID, secret).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return n, nil
}

// Authenticate reports whether the credential pair matches a registered client.
func (s *Store) Authenticate(ctx context.Context, clientID, secret string) (bool, error) {
	if clientID == "" || secret == "" {
		return false, nil
	}
	n, err := s.CountCredentials(ctx, clientID, secret)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats returns the client's counters, all zero when the client is unknown.
func (s *Store) Stats(ctx context.Context, clientID string) (ClientStats, error) {
	var st ClientStats
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT xp_score, tasks_completed_count, objectives_completed_count
		FROM clients WHERE client_id = ?;
	`), clientID).Scan(&st.XPScore, &st.TasksCompletedCount, &st.ObjectivesCompletedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ClientStats{}, nil
	}
	if err != nil {
		return ClientStats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}
