package persistence

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult holds counts of purged records from a retention run.
type RetentionResult struct {
	PurgedChatTurns int64 `json:"purged_chat_turns"`
}

// RunRetention deletes chat turns older than chatDays. A non-positive
// window keeps everything. Repeated runs are idempotent.
func (s *Store) RunRetention(ctx context.Context, chatDays int) (RetentionResult, error) {
	var result RetentionResult
	if chatDays <= 0 {
		return result, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -chatDays)
	res, err := s.exec(ctx, `DELETE FROM chat_history WHERE timestamp < ?;`, cutoff)
	if err != nil {
		return result, fmt.Errorf("purge chat_history: %w", err)
	}
	result.PurgedChatTurns, _ = res.RowsAffected()
	return result, nil
}
