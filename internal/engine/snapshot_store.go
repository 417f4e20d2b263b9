package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotStore persists opaque state payloads (momentum snapshots) in
// the cache database. Everything here is ephemeral and safe to lose.
type SnapshotStore struct {
	cacheDB *sql.DB
	log     zerolog.Logger
}

// NewSnapshotStore creates a snapshot store over the cache database.
func NewSnapshotStore(cacheDB *sql.DB, log zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		cacheDB: cacheDB,
		log:     log.With().Str("repo", "snapshots").Logger(),
	}
}

// Save upserts a payload under a key.
func (s *SnapshotStore) Save(ctx context.Context, key string, payload []byte) error {
	query := `
		INSERT INTO state_snapshots (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`
	if _, err := s.cacheDB.ExecContext(ctx, query, key, payload, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}

// Load returns the payload for a key, or nil when absent.
func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.cacheDB.QueryRowContext(ctx,
		"SELECT payload FROM state_snapshots WHERE key = ?", key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	return payload, nil
}
