package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kektech/kektech/internal/core"
)

// MemoryStore is the in-process quota backend. Windows are kept in a go-cache
// whose own janitor reclaims entries by wall clock; PurgeExpired removes them
// by the caller's clock.
type MemoryStore struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryStore creates a local store. cleanupInterval drives go-cache's
// janitor; zero disables it.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		items: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

// Name identifies the backend in logs and metrics.
func (m *MemoryStore) Name() string {
	return "local"
}

// Increment counts one request against key.
func (m *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (core.QuotaWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if value, ok := m.items.Get(key); ok {
		if current, ok := value.(*core.QuotaWindow); ok && !current.Expired(now) {
			current.Count++
			return *current, nil
		}
	}

	window = time.Duration(core.WindowMillis(window)) * time.Millisecond
	current := &core.QuotaWindow{Key: key, Count: 1, ResetAt: now.Add(window)}
	m.items.Set(key, current, window)
	return *current, nil
}

// PurgeExpired removes windows that have rolled over at now.
func (m *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, item := range m.items.Items() {
		current, ok := item.Object.(*core.QuotaWindow)
		if !ok || current.Expired(now) {
			m.items.Delete(key)
			removed++
		}
	}
	m.items.DeleteExpired()
	return removed, nil
}

// ListQuotas returns the windows selected by q, ordered by key.
func (m *MemoryStore) ListQuotas(_ context.Context, q core.QuotaQuery) ([]core.QuotaWindow, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	windows := []core.QuotaWindow{}
	for key, item := range m.items.Items() {
		current, ok := item.Object.(*core.QuotaWindow)
		if !ok || !q.Matches(key) {
			continue
		}
		windows = append(windows, *current)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Key < windows[j].Key })
	return windows, nil
}

// CountQuotas returns how many windows q selects.
func (m *MemoryStore) CountQuotas(ctx context.Context, q core.QuotaQuery) (int, error) {
	windows, err := m.ListQuotas(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(windows), nil
}

// ResetQuotas deletes the windows selected by q.
func (m *MemoryStore) ResetQuotas(_ context.Context, q core.QuotaQuery) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key := range m.items.Items() {
		if q.Matches(key) {
			m.items.Delete(key)
			removed++
		}
	}
	return removed, nil
}
