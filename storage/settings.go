package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting returns the stored value for key. The boolean is false when the key is absent.
func (s *Store) GetSetting(key string) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("key is required")
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a key/value pair.
func (s *Store) SetSetting(key, value string) error {
	if key == "" {
		return errors.New("key is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		value,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// Get implements the identity key-value contract.
func (s *Store) Get(key string) (string, bool, error) {
	return s.GetSetting(key)
}

// Set implements the identity key-value contract.
func (s *Store) Set(key, value string) error {
	return s.SetSetting(key, value)
}
