package metrics

import (
	"context"
	"errors"

	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/core/engine"
)

// ObserveFetch turns fetcher state transitions into upstream counters. It is
// installed as engine.Fetcher.Observer.
func ObserveFetch(event engine.FetchEvent) {
	switch event.State {
	case engine.StateBackoff:
		RecordUpstreamAttempt(false)
	case engine.StateSucceeded:
		RecordUpstreamAttempt(true)
		RecordUpstreamFetch(string(core.FetchSuccess))
	case engine.StateExhausted:
		// A cancelled backoff sleep already counted its attempt.
		if !errors.Is(event.Err, context.Canceled) {
			RecordUpstreamAttempt(false)
		}
		RecordUpstreamFetch(string(core.FetchFailure))
	}
}
