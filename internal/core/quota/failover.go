package quota

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/core/engine"
)

// DefaultFailoverTimeout bounds a single primary increment.
const DefaultFailoverTimeout = 250 * time.Millisecond

// FailoverStore sends every increment to Primary and, when it errors, takes
// the decision on Fallback instead. A failing shared store is never reported
// as an exhausted quota.
type FailoverStore struct {
	Primary  engine.QuotaStore
	Fallback engine.QuotaStore
	Logger   *logging.Logger
	// Timeout bounds each primary increment; zero leaves it to ctx.
	Timeout time.Duration
	// OnFailover is called every time the fallback answers for the primary.
	OnFailover func(err error)
}

// Name identifies the primary backend.
func (f *FailoverStore) Name() string {
	if f == nil || f.Primary == nil {
		return "none"
	}
	return f.Primary.Name()
}

// Increment counts one request, failing over to the fallback store.
func (f *FailoverStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (core.QuotaWindow, error) {
	if f == nil {
		return core.QuotaWindow{}, errors.New("quota store is not configured")
	}
	if f.Primary == nil {
		return f.fallback(ctx, key, window, now, errors.New("primary quota store is not configured"))
	}

	primaryCtx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		primaryCtx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	current, err := f.Primary.Increment(primaryCtx, key, window, now)
	if err == nil {
		return current, nil
	}
	return f.fallback(ctx, key, window, now, err)
}

func (f *FailoverStore) fallback(ctx context.Context, key string, window time.Duration, now time.Time, cause error) (core.QuotaWindow, error) {
	if f.Logger != nil {
		f.Logger.Warn("Shared quota store failed, using local fallback",
			zap.String("backend", f.Name()),
			zap.String("key", key),
			zap.Error(cause))
	}
	if f.OnFailover != nil {
		f.OnFailover(cause)
	}
	if f.Fallback == nil {
		return core.QuotaWindow{}, cause
	}

	current, err := f.Fallback.Increment(ctx, key, window, now)
	if err != nil {
		return core.QuotaWindow{}, errors.Join(cause, err)
	}
	return current, nil
}

// PurgeExpired purges both stores when they support it.
func (f *FailoverStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if f == nil {
		return 0, nil
	}

	var (
		total int64
		errs  []error
	)
	for _, store := range []engine.QuotaStore{f.Primary, f.Fallback} {
		purger, ok := store.(engine.Purger)
		if !ok {
			continue
		}
		removed, err := purger.PurgeExpired(ctx, now)
		total += removed
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
