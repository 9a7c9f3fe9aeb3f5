package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kektech/kektech/internal/core"
)

func whereClause(q core.QuotaQuery) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if key := strings.TrimSpace(q.Key); key != "" {
		return "WHERE key = ?", []any{key}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE key LIKE ? ESCAPE '\\'", []any{escapeLike(prefix) + "%"}, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

// ListQuotas returns the stored windows selected by q, ordered by key.
func (s *Store) ListQuotas(ctx context.Context, q core.QuotaQuery) ([]core.QuotaWindow, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := whereClause(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, count, reset_at
		FROM quota_windows
		%s
		ORDER BY key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list quota windows: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	windows := []core.QuotaWindow{}
	for rows.Next() {
		var (
			key     string
			count   int64
			resetAt int64
		)
		if err := rows.Scan(&key, &count, &resetAt); err != nil {
			return nil, fmt.Errorf("scan quota windows: %w", err)
		}
		windows = append(windows, core.QuotaWindow{
			Key:     key,
			Count:   count,
			ResetAt: time.UnixMilli(resetAt).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quota windows: %w", err)
	}

	return windows, nil
}

// CountQuotas returns how many stored windows q selects.
func (s *Store) CountQuotas(ctx context.Context, q core.QuotaQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM quota_windows
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count quota windows: %w", err)
	}
	return count, nil
}

// ResetQuotas deletes the windows selected by q.
func (s *Store) ResetQuotas(ctx context.Context, q core.QuotaQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM quota_windows
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset quota windows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset quota windows: %w", err)
	}
	return affected, nil
}
