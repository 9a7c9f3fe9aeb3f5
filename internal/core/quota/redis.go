package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kektech/kektech/internal/core"
)

const (
	redisDialTimeout = 2 * time.Second
	// redisIOTimeout bounds each command so a hung server fails over quickly.
	redisIOTimeout = 500 * time.Millisecond
)

// incrementScript keeps each window as a hash {count, reset}. A window whose
// reset time has passed at the caller's clock is restarted; PEXPIRE only
// reclaims idle keys.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
if reset == nil or reset <= now then
  reset = now + window_ms
  redis.call('HSET', KEYS[1], 'count', 1, 'reset', reset)
  redis.call('PEXPIRE', KEYS[1], window_ms)
  return {1, reset}
end
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {count, reset}
`)

// RedisStore is the shared quota backend on Redis.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore wraps an existing client. keyPrefix scopes administrative
// scans to the service's keys.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// DialRedis connects to rawURL, using token as the password when the URL
// carries none. Timeouts not set in the URL default to redisIOTimeout and
// commands are not retried; the caller's deadline also applies.
func DialRedis(ctx context.Context, rawURL, token, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Password == "" {
		opts.Password = token
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = redisIOTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = redisIOTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = redisIOTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = -1
	}
	opts.ContextTimeoutEnabled = true

	client := redis.NewClient(opts)
	store := NewRedisStore(client, keyPrefix)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return store, err
	}
	return store, nil
}

// Name identifies the backend in logs and metrics.
func (s *RedisStore) Name() string {
	return "redis"
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis store is not initialized")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Increment counts one request against key with a single script call.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (core.QuotaWindow, error) {
	if s == nil || s.client == nil {
		return core.QuotaWindow{}, errors.New("redis store is not initialized")
	}

	res, err := incrementScript.Run(ctx, s.client, []string{key}, now.UTC().UnixMilli(), core.WindowMillis(window)).Result()
	if err != nil {
		return core.QuotaWindow{}, fmt.Errorf("increment quota window: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return core.QuotaWindow{}, fmt.Errorf("unexpected script result: %#v", res)
	}
	count, ok1 := arr[0].(int64)
	reset, ok2 := arr[1].(int64)
	if !ok1 || !ok2 {
		return core.QuotaWindow{}, fmt.Errorf("unexpected script result: %#v", res)
	}

	return core.QuotaWindow{
		Key:     key,
		Count:   count,
		ResetAt: time.UnixMilli(reset).UTC(),
	}, nil
}

// PurgeExpired is a no-op; Redis expires idle windows itself.
func (s *RedisStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// ListQuotas returns the windows selected by q, ordered by key.
func (s *RedisStore) ListQuotas(ctx context.Context, q core.QuotaQuery) ([]core.QuotaWindow, error) {
	keys, err := s.keys(ctx, q)
	if err != nil {
		return nil, err
	}

	windows := make([]core.QuotaWindow, 0, len(keys))
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read quota window %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		count, _ := strconv.ParseInt(fields["count"], 10, 64)
		reset, _ := strconv.ParseInt(fields["reset"], 10, 64)
		windows = append(windows, core.QuotaWindow{
			Key:     key,
			Count:   count,
			ResetAt: time.UnixMilli(reset).UTC(),
		})
	}
	return windows, nil
}

// CountQuotas returns how many windows q selects.
func (s *RedisStore) CountQuotas(ctx context.Context, q core.QuotaQuery) (int, error) {
	keys, err := s.keys(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ResetQuotas deletes the windows selected by q.
func (s *RedisStore) ResetQuotas(ctx context.Context, q core.QuotaQuery) (int64, error) {
	keys, err := s.keys(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("reset quota windows: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) keys(ctx context.Context, q core.QuotaQuery) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store is not initialized")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if key := strings.TrimSpace(q.Key); key != "" && !q.All {
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("lookup quota window: %w", err)
		}
		if exists == 0 {
			return []string{}, nil
		}
		return []string{key}, nil
	}

	prefix := s.keyPrefix
	if !q.All {
		prefix = strings.TrimSpace(q.Prefix)
	}
	pattern := escapeGlob(prefix) + "*"

	keys := []string{}
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan quota windows: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func escapeGlob(value string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(value)
}
