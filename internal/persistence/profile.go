package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetProfile records a user fact, one row per key, last write wins.
func (s *Store) SetProfile(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("profile key must be non-empty")
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO user_profile (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, unixFloat(time.Now()),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("set profile %q: %w", key, err)
	}
	return nil
}

// Profile returns the value for a single key, or "" when absent.
func (s *Store) Profile(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_profile WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get profile %q: %w", key, err)
	}
	return value, nil
}

// AllProfile returns every stored user fact.
func (s *Store) AllProfile(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM user_profile`)
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	defer rows.Close()

	profile := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profile[k] = v
	}
	return profile, rows.Err()
}

// ClearProfile wipes the user profile.
func (s *Store) ClearProfile(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_profile`); err != nil {
		return fmt.Errorf("clear profile: %w", err)
	}
	return nil
}
