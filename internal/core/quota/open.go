// Package quota provides the interchangeable backends behind the rate limiter
// and selects one from configuration at startup.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/config"
	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/core/engine"
	"github.com/kektech/kektech/internal/core/store"
)

// Admin administers stored quota windows.
type Admin interface {
	ListQuotas(ctx context.Context, q core.QuotaQuery) ([]core.QuotaWindow, error)
	CountQuotas(ctx context.Context, q core.QuotaQuery) (int, error)
	ResetQuotas(ctx context.Context, q core.QuotaQuery) (int64, error)
}

// Pinger reports backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is the quota store selected for this process.
type Backend struct {
	// Kind is local, redis or libsql.
	Kind   string
	Store  engine.QuotaStore
	Admin  Admin
	Purger engine.Purger
	// Shared is the shared store, nil when running local only.
	Shared Pinger

	closers []func() error
}

// Close releases backend connections.
func (b *Backend) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for _, closer := range b.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options tunes Open.
type Options struct {
	Logger     *logging.Logger
	OnFailover func(err error)
	// FailoverTimeout bounds each shared-store increment before the local
	// fallback answers. Zero means DefaultFailoverTimeout.
	FailoverTimeout time.Duration
}

// Open selects the quota backend. Without both a URL and a token the local
// backend is used silently. A shared backend is always paired with a local
// fallback; if it cannot be reached at startup the error is logged and
// increments fail over until it recovers.
func Open(ctx context.Context, cfg config.QuotaConfig, opts Options) (*Backend, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	local := NewMemoryStore(cfg.PurgeInterval)

	kind := cfg.Backend()
	switch kind {
	case config.BackendLocal:
		return &Backend{Kind: kind, Store: local, Admin: local, Purger: local}, nil

	case config.BackendRedis:
		shared, err := DialRedis(ctx, cfg.URL, cfg.Token, cfg.KeyPrefix)
		if err != nil {
			if shared == nil {
				return nil, err
			}
			logWarn(opts.Logger, "Redis quota store unreachable at startup", err)
		}
		return pair(kind, shared, local, opts, shared.Close), nil

	case config.BackendLibsql:
		shared, err := openLibsql(ctx, cfg)
		if err != nil {
			logWarn(opts.Logger, "libsql quota store unavailable, using local backend", err)
			return &Backend{Kind: config.BackendLocal, Store: local, Admin: local, Purger: local}, nil
		}
		return pair(kind, shared, local, opts, shared.Close), nil

	default:
		return nil, fmt.Errorf("unsupported quota store url: %s", cfg.URL)
	}
}

type sharedStore interface {
	engine.QuotaStore
	engine.Purger
	Admin
	Pinger
}

func pair(kind string, shared sharedStore, local *MemoryStore, opts Options, closer func() error) *Backend {
	timeout := opts.FailoverTimeout
	if timeout <= 0 {
		timeout = DefaultFailoverTimeout
	}
	failover := &FailoverStore{
		Primary:    shared,
		Fallback:   local,
		Logger:     opts.Logger,
		Timeout:    timeout,
		OnFailover: opts.OnFailover,
	}
	return &Backend{
		Kind:    kind,
		Store:   failover,
		Admin:   shared,
		Purger:  failover,
		Shared:  shared,
		closers: []func() error{closer},
	}
}

func openLibsql(ctx context.Context, cfg config.QuotaConfig) (*store.Store, error) {
	shared, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := shared.Migrate(ctx); err != nil {
		_ = shared.Close()
		return nil, err
	}
	return shared, nil
}

func logWarn(logger *logging.Logger, msg string, err error) {
	if logger != nil {
		logger.Warn(msg, zap.Error(err))
	}
}
