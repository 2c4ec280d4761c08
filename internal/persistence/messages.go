package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/superheromeZzh/meowdev/internal/bus"
)

// Message is one entry in the shared chat history.
type Message struct {
	ID        int64
	Role      string
	Content   string
	Timestamp time.Time
	SessionID string
}

// AppendMessage records a message in the shared history.
func (s *Store) AppendMessage(ctx context.Context, role, content, sessionID string) error {
	if sessionID == "" {
		sessionID = "default"
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO chat_history (role, content, timestamp, session_id) VALUES (?, ?, ?, ?)`,
			role, content, unixFloat(time.Now()), sessionID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	s.publish(bus.TopicChatMessage, bus.ChatMessageEvent{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	})
	return nil
}

// RecentMessages returns the most recent limit messages for a session in
// chronological order (newest last).
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp, session_id FROM chat_history
		 WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesPaginated returns a page of history, newest-first offsets,
// returned in chronological order for display.
func (s *Store) MessagesPaginated(ctx context.Context, sessionID string, offset, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp, session_id FROM chat_history
		 WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query paginated messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessageCount returns the number of messages stored for a session.
func (s *Store) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_history WHERE session_id = ?`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// ClearSession wipes all history for a session.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_history WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var ts float64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts, &m.SessionID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = fromUnixFloat(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixFloat(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second)))
}
