package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kektech/kektech/internal/core"
)

// Name identifies the backend in logs and metrics.
func (s *Store) Name() string {
	return "libsql"
}

// Increment counts one request against key in a single statement. A window
// that has reached its reset time is restarted with a count of one.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (core.QuotaWindow, error) {
	if s == nil || s.DB == nil {
		return core.QuotaWindow{}, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return core.QuotaWindow{}, errors.New("quota key is required")
	}
	if window <= 0 {
		return core.QuotaWindow{}, errors.New("quota window must be positive")
	}

	nowMillis := now.UTC().UnixMilli()
	resetMillis := nowMillis + core.WindowMillis(window)

	var (
		count   int64
		resetAt int64
	)
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO quota_windows (key, count, reset_at)
		VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			count = CASE WHEN quota_windows.reset_at <= ? THEN 1 ELSE quota_windows.count + 1 END,
			reset_at = CASE WHEN quota_windows.reset_at <= ? THEN excluded.reset_at ELSE quota_windows.reset_at END
		RETURNING count, reset_at
	`, key, resetMillis, nowMillis, nowMillis)
	if err := row.Scan(&count, &resetAt); err != nil {
		return core.QuotaWindow{}, fmt.Errorf("increment quota window: %w", err)
	}

	return core.QuotaWindow{
		Key:     key,
		Count:   count,
		ResetAt: time.UnixMilli(resetAt).UTC(),
	}, nil
}

// PurgeExpired deletes windows whose reset time has passed.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM quota_windows WHERE reset_at <= ?`, now.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge quota windows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge quota windows: %w", err)
	}
	return affected, nil
}
