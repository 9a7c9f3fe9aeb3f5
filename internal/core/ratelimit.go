package core

import (
	"errors"
	"strings"
	"time"
)

// QuotaWindow is the fixed window counter for a single key.
type QuotaWindow struct {
	Key     string    `json:"key"`
	Count   int64     `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Expired reports whether the window has rolled over at now.
func (w QuotaWindow) Expired(now time.Time) bool {
	return !now.Before(w.ResetAt)
}

// QuotaConfig is the per-use-case quota.
type QuotaConfig struct {
	Limit  int64         `mapstructure:"limit" json:"limit"`
	Window time.Duration `mapstructure:"window" json:"window"`
}

// MinWindow is the shortest window the shared stores can represent; they
// keep reset times in unix milliseconds.
const MinWindow = time.Millisecond

// Valid reports whether the limit is positive and the window is at least
// MinWindow.
func (c QuotaConfig) Valid() bool {
	return c.Limit > 0 && c.Window >= MinWindow
}

// WindowMillis returns window in whole milliseconds, rounded up and never
// less than one.
func WindowMillis(window time.Duration) int64 {
	ms := int64(window / time.Millisecond)
	if window%time.Millisecond != 0 {
		ms++
	}
	if ms < 1 {
		ms = 1
	}
	return ms
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Admitted  bool      `json:"admitted"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset"`
	// Backend names the store that produced the decision.
	Backend string `json:"-"`
}

// RetryAfter returns the whole seconds a rejected client should wait,
// rounded up and never less than one.
func (d Decision) RetryAfter(now time.Time) int64 {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 1
	}
	secs := int64(wait / time.Second)
	if wait%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// QuotaQuery selects quota windows for administration.
type QuotaQuery struct {
	All    bool
	Key    string
	Prefix string
}

// Validate requires exactly one way of selecting windows to be usable.
func (q QuotaQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}

// Matches reports whether key is selected by the query.
func (q QuotaQuery) Matches(key string) bool {
	if q.All {
		return true
	}
	if k := strings.TrimSpace(q.Key); k != "" {
		return key == k
	}
	if p := strings.TrimSpace(q.Prefix); p != "" {
		return strings.HasPrefix(key, p)
	}
	return false
}
