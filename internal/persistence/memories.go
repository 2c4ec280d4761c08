package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/superheromeZzh/meowdev/internal/bus"
)

const (
	// maxImportance caps how far a repeated memory can be promoted.
	maxImportance = 5

	// maxMemoriesPerCat bounds each cat's memory table. When exceeded, the
	// lowest (importance, recency) entries are evicted.
	maxMemoriesPerCat = 50
)

// Memory is one remembered fact owned by a single cat.
type Memory struct {
	ID         int64
	CatID      string
	Text       string
	Importance int
	Timestamp  time.Time
}

// AddMemory stores a memory for a cat. An exact-text repeat does not insert
// a duplicate: it bumps the stored importance by one, capped at
// maxImportance. After insert the per-cat bound is enforced by evicting the
// least important, oldest entries.
func (s *Store) AddMemory(ctx context.Context, catID, text string, importance int) error {
	if text == "" {
		return errors.New("memory text must be non-empty")
	}
	if importance < 1 {
		importance = 1
	}
	if importance > maxImportance {
		importance = maxImportance
	}

	var existing int
	err := s.db.QueryRowContext(ctx,
		`SELECT importance FROM cat_memories WHERE cat_id = ? AND memory = ?`,
		catID, text,
	).Scan(&existing)
	switch {
	case err == nil:
		bumped := existing + 1
		if bumped > maxImportance {
			bumped = maxImportance
		}
		err = retryOnBusy(ctx, 5, func() error {
			_, err := s.db.ExecContext(ctx,
				`UPDATE cat_memories SET importance = ?, timestamp = ? WHERE cat_id = ? AND memory = ?`,
				bumped, unixFloat(time.Now()), catID, text,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("bump memory importance: %w", err)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return fmt.Errorf("lookup memory: %w", err)
	}

	err = retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO cat_memories (cat_id, memory, importance, timestamp) VALUES (?, ?, ?, ?)`,
			catID, text, importance, unixFloat(time.Now()),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	if err := s.evictMemories(ctx, catID); err != nil {
		return err
	}
	s.publish(bus.TopicMemoryCreated, bus.MemoryCreatedEvent{CatID: catID, Memory: text})
	return nil
}

// evictMemories deletes the lowest (importance, recency) entries beyond the
// per-cat bound.
func (s *Store) evictMemories(ctx context.Context, catID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cat_memories WHERE id IN (
			SELECT id FROM cat_memories WHERE cat_id = ?
			ORDER BY importance ASC, timestamp ASC
			LIMIT max(0, (SELECT COUNT(*) FROM cat_memories WHERE cat_id = ?) - ?)
		)`, catID, catID, maxMemoriesPerCat)
	if err != nil {
		return fmt.Errorf("evict memories: %w", err)
	}
	return nil
}

// Memories returns up to limit memories for a cat, most important first,
// ties broken by recency.
func (s *Store) Memories(ctx context.Context, catID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cat_id, memory, importance, timestamp FROM cat_memories
		 WHERE cat_id = ? ORDER BY importance DESC, timestamp DESC LIMIT ?`,
		catID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var mems []Memory
	for rows.Next() {
		var m Memory
		var ts float64
		if err := rows.Scan(&m.ID, &m.CatID, &m.Text, &m.Importance, &ts); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Timestamp = fromUnixFloat(ts)
		mems = append(mems, m)
	}
	return mems, rows.Err()
}

// ClearMemories deletes all memories for a cat, or for every cat when
// catID is empty.
func (s *Store) ClearMemories(ctx context.Context, catID string) error {
	var err error
	if catID == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cat_memories`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cat_memories WHERE cat_id = ?`, catID)
	}
	if err != nil {
		return fmt.Errorf("clear memories: %w", err)
	}
	return nil
}
