// Copyright 2025 James Ross
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrSettingNotFound is returned when a key has never been set.
var ErrSettingNotFound = errors.New("persistence: setting not found")

// GetSetting reads one AppSetting by key.
func (s *Store) GetSetting(ctx context.Context, key string) (*AppSetting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, value, updated_at FROM app_settings WHERE key = ?`, key)
	var as AppSetting
	if err := row.Scan(&as.Key, &as.Value, &as.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingNotFound
		}
		return nil, err
	}
	return &as, nil
}

// SetSetting upserts a key/value pair, used for the readiness report
// and other small pieces of daemon-wide state.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	return s.withLockRetry(ctx, "set_setting", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now,
		)
		return err
	})
}
