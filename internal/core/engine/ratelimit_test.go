package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kektech/kektech/internal/core"
)

type memoryQuotaStore struct {
	mu      sync.Mutex
	windows map[string]core.QuotaWindow
	err     error
}

func (m *memoryQuotaStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (core.QuotaWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return core.QuotaWindow{}, m.err
	}
	if m.windows == nil {
		m.windows = make(map[string]core.QuotaWindow)
	}
	current, ok := m.windows[key]
	if !ok || current.Expired(now) {
		current = core.QuotaWindow{Key: key, ResetAt: now.Add(window)}
	}
	current.Count++
	m.windows[key] = current
	return current, nil
}

func (m *memoryQuotaStore) Name() string { return "memory" }

func TestCheckAndConsumeCountsDown(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(core.UseCaseMint, core.QuotaConfig{Limit: 5, Window: time.Minute}, &memoryQuotaStore{}, "")
	limiter.Clock = func() time.Time { return now }

	var firstReset time.Time
	for i, want := range []int64{4, 3, 2, 1, 0} {
		decision, err := limiter.CheckAndConsume(context.Background(), "1.2.3.4")
		require.NoError(t, err)
		require.True(t, decision.Admitted, "call %d", i+1)
		require.Equal(t, want, decision.Remaining)
		require.Equal(t, int64(5), decision.Limit)
		if i == 0 {
			firstReset = decision.ResetAt
		}
		require.Equal(t, firstReset, decision.ResetAt)
		now = now.Add(time.Second)
	}

	decision, err := limiter.CheckAndConsume(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	require.False(t, decision.Admitted)
	require.Zero(t, decision.Remaining)
	require.Equal(t, firstReset, decision.ResetAt)
	require.Equal(t, int64(55), decision.RetryAfter(now))
}

func TestCheckAndConsumeWindowRollover(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(core.UseCaseAPI, core.QuotaConfig{Limit: 1, Window: time.Minute}, &memoryQuotaStore{}, "")
	limiter.Clock = func() time.Time { return now }

	decision, err := limiter.CheckAndConsume(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, decision.Admitted)

	decision, err = limiter.CheckAndConsume(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, decision.Admitted)

	now = now.Add(time.Minute)
	decision, err = limiter.CheckAndConsume(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, decision.Admitted)
	require.Zero(t, decision.Remaining)
	require.Equal(t, now.Add(time.Minute), decision.ResetAt)
}

func TestCheckAndConsumeSeparatesUseCasesAndKeys(t *testing.T) {
	store := &memoryQuotaStore{}
	limiters := NewLimiters(store, map[core.UseCase]core.QuotaConfig{
		core.UseCaseMint: {Limit: 1, Window: time.Minute},
	}, "kt:")

	decision, err := limiters.For(core.UseCaseMint).CheckAndConsume(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, decision.Admitted)

	decision, err = limiters.For(core.UseCaseMint).CheckAndConsume(context.Background(), "a")
	require.NoError(t, err)
	require.False(t, decision.Admitted)

	decision, err = limiters.For(core.UseCaseMint).CheckAndConsume(context.Background(), "b")
	require.NoError(t, err)
	require.True(t, decision.Admitted)

	decision, err = limiters.For(core.UseCaseAPI).CheckAndConsume(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, decision.Admitted)
	require.Equal(t, int64(59), decision.Remaining)

	require.Contains(t, store.windows, "kt:mint:a")
	require.Contains(t, store.windows, "kt:api:a")
}

func TestCheckAndConsumeFailsOpen(t *testing.T) {
	limiter := NewRateLimiter(core.UseCaseRPC, core.QuotaConfig{}, &memoryQuotaStore{err: errors.New("down")}, "")

	decision, err := limiter.CheckAndConsume(context.Background(), "k")
	require.Error(t, err)
	require.True(t, decision.Admitted)
	require.Equal(t, int64(100), decision.Limit)
	require.Equal(t, int64(100), decision.Remaining)
}

func TestCheckAndConsumeConcurrentAdmitsExactlyLimit(t *testing.T) {
	limiter := NewRateLimiter(core.UseCaseWalletConnect, core.QuotaConfig{Limit: 10, Window: time.Minute}, &memoryQuotaStore{}, "")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.CheckAndConsume(context.Background(), "shared")
			require.NoError(t, err)
			if decision.Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, admitted)
}

func TestStoreKeyDefaultsUnknown(t *testing.T) {
	limiter := NewRateLimiter(core.UseCaseAPI, core.QuotaConfig{}, nil, "p:")
	require.Equal(t, "p:api:unknown", limiter.StoreKey("  "))
	require.Equal(t, "p:api:10.0.0.1", limiter.StoreKey(" 10.0.0.1 "))
}

type countingPurger struct {
	calls int
	now   time.Time
}

func (c *countingPurger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	c.calls++
	c.now = now
	return 2, nil
}

func TestJanitorSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	purger := &countingPurger{}
	var reported int64
	janitor := &Janitor{
		Purger:  purger,
		Clock:   func() time.Time { return now },
		OnPurge: func(removed int64, err error) { reported = removed },
	}

	require.Equal(t, int64(2), janitor.Sweep(context.Background()))
	require.Equal(t, 1, purger.calls)
	require.Equal(t, now, purger.now)
	require.Equal(t, int64(2), reported)
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		(&Janitor{Purger: &countingPurger{}, Interval: time.Hour}).Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
