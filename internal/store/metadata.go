package store

import (
	"database/sql"
	"strconv"
	"time"
)

const (
	metaLastEvictedAt = "last_evicted_at"
	metaEvictedTotal  = "evicted_total"
)

// SetMetadata upserts a key-value pair in the store_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO store_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM store_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// LastEvictedAt returns when the eviction policy last ran, or the zero time.
func (s *Store) LastEvictedAt() (time.Time, error) {
	v, err := s.GetMetadata(metaLastEvictedAt)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

// EvictedTotal returns how many drafts eviction has removed over the life of
// the database.
func (s *Store) EvictedTotal() (int, error) {
	v, err := s.GetMetadata(metaEvictedTotal)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.Atoi(v)
}
