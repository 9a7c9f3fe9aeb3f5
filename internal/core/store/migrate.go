package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS quota_windows (
		key TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0,
		reset_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_quota_windows_reset ON quota_windows(reset_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
