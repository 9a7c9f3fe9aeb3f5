package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kektech/kektech/internal/core"
)

// UnknownClientKey is used when a request carries no client identifier.
const UnknownClientKey = "unknown"

// QuotaStore holds quota windows. Implementations must perform the increment
// and the read of the resulting window as a single atomic step.
type QuotaStore interface {
	// Increment adds one to the window for key, starting a fresh window of the
	// given duration when none is active at now, and returns the window after
	// the increment.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (core.QuotaWindow, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Purger is implemented by stores that need explicit reclamation of expired
// windows.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// DefaultQuotas are the per-use-case quotas used when configuration omits one.
var DefaultQuotas = map[core.UseCase]core.QuotaConfig{
	core.UseCaseMint:          {Limit: 5, Window: time.Minute},
	core.UseCaseRPC:           {Limit: 100, Window: time.Minute},
	core.UseCaseWalletConnect: {Limit: 10, Window: time.Minute},
	core.UseCaseAPI:           {Limit: 60, Window: time.Minute},
}

// RateLimiter admits or rejects requests for one use-case.
type RateLimiter struct {
	UseCase   core.UseCase
	Quota     core.QuotaConfig
	Store     QuotaStore
	KeyPrefix string
	Clock     func() time.Time
}

// NewRateLimiter builds a limiter for a use-case, falling back to the default
// quota when cfg is not valid.
func NewRateLimiter(useCase core.UseCase, cfg core.QuotaConfig, store QuotaStore, keyPrefix string) *RateLimiter {
	if !cfg.Valid() {
		cfg = DefaultQuotas[useCase]
	}
	return &RateLimiter{
		UseCase:   useCase,
		Quota:     cfg,
		Store:     store,
		KeyPrefix: keyPrefix,
	}
}

// CheckAndConsume counts one request for key against the quota.
//
// A store failure never rejects: the request is admitted with the full quota
// remaining and the error is returned alongside the decision.
func (r *RateLimiter) CheckAndConsume(ctx context.Context, key string) (core.Decision, error) {
	if r == nil {
		return core.Decision{Admitted: true}, errors.New("rate limiter is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	quota := r.Quota
	if !quota.Valid() {
		quota = DefaultQuotas[r.UseCase]
	}
	if !quota.Valid() {
		return core.Decision{Admitted: true}, fmt.Errorf("no valid quota for use case %q", r.UseCase)
	}

	now := r.now()
	if r.Store == nil {
		return failOpen(quota, now), errors.New("quota store is not configured")
	}

	window, err := r.Store.Increment(ctx, r.StoreKey(key), quota.Window, now)
	if err != nil {
		return failOpen(quota, now), fmt.Errorf("consume quota: %w", err)
	}

	decision := core.Decision{
		Limit:   quota.Limit,
		ResetAt: window.ResetAt,
		Backend: r.Store.Name(),
	}
	if window.Count <= quota.Limit {
		decision.Admitted = true
		decision.Remaining = quota.Limit - window.Count
	}
	return decision, nil
}

// StoreKey returns the namespaced key used in the backing store.
func (r *RateLimiter) StoreKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		key = UnknownClientKey
	}
	return r.KeyPrefix + string(r.UseCase) + ":" + key
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func failOpen(quota core.QuotaConfig, now time.Time) core.Decision {
	return core.Decision{
		Admitted:  true,
		Limit:     quota.Limit,
		Remaining: quota.Limit,
		ResetAt:   now.Add(quota.Window),
		Backend:   "none",
	}
}

// Limiters groups one limiter per use-case over a shared store.
type Limiters map[core.UseCase]*RateLimiter

// NewLimiters builds a limiter for every known use-case. Quotas missing from
// quotas use DefaultQuotas.
func NewLimiters(store QuotaStore, quotas map[core.UseCase]core.QuotaConfig, keyPrefix string) Limiters {
	limiters := make(Limiters, len(core.UseCases))
	for _, useCase := range core.UseCases {
		limiters[useCase] = NewRateLimiter(useCase, quotas[useCase], store, keyPrefix)
	}
	return limiters
}

// For returns the limiter for a use-case, or nil.
func (l Limiters) For(useCase core.UseCase) *RateLimiter {
	if l == nil {
		return nil
	}
	return l[useCase]
}
