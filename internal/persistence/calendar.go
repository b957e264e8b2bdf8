package persistence

import (
	"context"
	"errors"
	"fmt"
)

// CalendarEvent is one agenda entry. Times are ISO-8601 strings as supplied
// by the caller; overlapping events are allowed.
type CalendarEvent struct {
	ID        int64  `json:"-"`
	Title     string `json:"title"`
	StartTime string `json:"start"`
	EndTime   string `json:"end"`
}

func (s *Store) AddCalendarEvent(ctx context.Context, clientID, title, start, end string) (int64, error) {
	if title == "" || start == "" || end == "" {
		return 0, errors.New("title, start_time and end_time are required")
	}
	id, err := s.insertReturningID(ctx, `
		INSERT INTO calendar_events (client_id, title, start_time, end_time)
		VALUES (?, ?, ?, ?)`, clientID, title, start, end)
	if err != nil {
		return 0, fmt.Errorf("insert calendar event: %w", err)
	}
	return id, nil
}

// RemoveCalendarEvent deletes every event of clientID with the given title
// and returns how many were removed.
func (s *Store) RemoveCalendarEvent(ctx context.Context, clientID, title string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM calendar_events WHERE client_id = ? AND title = ?;`, clientID, title)
	if err != nil {
		return 0, fmt.Errorf("delete calendar event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListCalendarEvents returns the client's events ordered by start time.
func (s *Store) ListCalendarEvents(ctx context.Context, clientID string) ([]CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, title, start_time, end_time
		FROM calendar_events
		WHERE client_id = ?
		ORDER BY start_time ASC, id ASC;
	`), clientID)
	if err != nil {
		return nil, fmt.Errorf("query calendar events: %w", err)
	}
	defer rows.Close()

	out := []CalendarEvent{}
	for rows.Next() {
		var ev CalendarEvent
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.StartTime, &ev.EndTime); err != nil {
			return nil, fmt.Errorf("scan calendar event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calendar rows: %w", err)
	}
	return out, nil
}
