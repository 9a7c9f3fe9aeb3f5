package engine

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// DefaultPurgeInterval is the housekeeping cadence for expired quota windows.
const DefaultPurgeInterval = time.Minute

// Janitor periodically purges expired quota windows.
type Janitor struct {
	Purger   Purger
	Interval time.Duration
	Logger   *logging.Logger
	Clock    func() time.Time
	// OnPurge is called after every sweep with the number of windows removed.
	OnPurge func(removed int64, err error)
}

// Run sweeps on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j == nil || j.Purger == nil {
		return
	}

	interval := j.Interval
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep performs a single purge pass.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	if j == nil || j.Purger == nil {
		return 0
	}

	now := time.Now().UTC()
	if j.Clock != nil {
		now = j.Clock()
	}

	removed, err := j.Purger.PurgeExpired(ctx, now)
	if j.OnPurge != nil {
		j.OnPurge(removed, err)
	}
	if j.Logger != nil {
		if err != nil {
			j.Logger.Warn("Quota purge failed", zap.Error(err))
		} else if removed > 0 {
			j.Logger.Debug("Purged expired quota windows", zap.Int64("removed", removed))
		}
	}
	return removed
}
