package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/core/engine"
)

type storeFactory func(t *testing.T) engine.QuotaStore

// windowBackends lists every backend the short-window tests run against.
// The libsql backend is registered by a cgo-only file.
var windowBackends = map[string]storeFactory{
	"local": func(t *testing.T) engine.QuotaStore {
		return NewMemoryStore(0)
	},
	"redis": func(t *testing.T) engine.QuotaStore {
		store, _ := setupTestRedis(t)
		return store
	},
}

func TestSubMillisecondWindowRoundsUp(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, factory := range windowBackends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			for i := int64(1); i <= 3; i++ {
				window, err := store.Increment(ctx, "kt:mint:a", 500*time.Microsecond, now)
				require.NoError(t, err)
				require.Equal(t, i, window.Count, "call %d", i)
				require.Equal(t, now.Add(time.Millisecond), window.ResetAt)
			}

			rolled, err := store.Increment(ctx, "kt:mint:a", 500*time.Microsecond, now.Add(time.Millisecond))
			require.NoError(t, err)
			require.Equal(t, int64(1), rolled.Count)
		})
	}
}

func TestMillisecondWindowEnforcesLimit(t *testing.T) {
	for name, factory := range windowBackends {
		t.Run(name, func(t *testing.T) {
			now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			limiter := engine.NewRateLimiter(core.UseCaseMint, core.QuotaConfig{Limit: 1, Window: time.Millisecond}, factory(t), "kt:")
			limiter.Clock = func() time.Time { return now }

			for i, want := range []bool{true, false, false} {
				decision, err := limiter.CheckAndConsume(context.Background(), "a")
				require.NoError(t, err)
				require.Equal(t, want, decision.Admitted, "call %d", i+1)
			}

			now = now.Add(time.Millisecond)
			decision, err := limiter.CheckAndConsume(context.Background(), "a")
			require.NoError(t, err)
			require.True(t, decision.Admitted)
		})
	}
}
