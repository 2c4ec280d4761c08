package persistence

import (
	"context"
	"fmt"
	"time"
)

// TaskRow is the persisted form of a board task. Status transitions are the
// board's business; the store only guarantees durable, ordered rows.
type TaskRow struct {
	ID        string
	Title     string
	Status    string
	Owner     string
	CreatedAt time.Time
}

// InsertTask persists a new task row.
func (s *Store) InsertTask(ctx context.Context, t TaskRow) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO tasks (id, title, status, owner, created_at) VALUES (?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.Status, t.Owner, unixFloat(t.CreatedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTask persists status/owner changes for an existing row.
func (s *Store) UpdateTask(ctx context.Context, id, status, owner string) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, owner = ? WHERE id = ?`,
			status, owner, id,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return nil
}

// DeleteTask removes a row.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// LoadTasks returns every task row ordered by original creation time.
func (s *Store) LoadTasks(ctx context.Context) ([]TaskRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, status, owner, created_at FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []TaskRow
	for rows.Next() {
		var t TaskRow
		var ts float64
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.Owner, &ts); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.CreatedAt = fromUnixFloat(ts)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
