package cmd

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/logging"
	"golang.org/x/time/rate"

	"github.com/kektech/kektech/internal/config"
	"github.com/kektech/kektech/internal/core/engine"
	"github.com/kektech/kektech/internal/core/rankings"
	"github.com/kektech/kektech/internal/metrics"
)

// apiKeyHeader carries upstream.api_key on rankings requests.
const apiKeyHeader = "X-API-Key"

func newFetcher(up config.UpstreamConfig, logger *logging.Logger) *engine.Fetcher {
	fetcher := &engine.Fetcher{
		Client:   &http.Client{},
		Logger:   logger,
		Observer: metrics.ObserveFetch,
	}
	if up.RequestsPerSecond > 0 {
		fetcher.Pacer = rate.NewLimiter(rate.Limit(up.RequestsPerSecond), 1)
	}
	if up.APIKey != "" {
		fetcher.Header = http.Header{}
		fetcher.Header.Set(apiKeyHeader, up.APIKey)
	}
	return fetcher
}

func retryOptions(up config.UpstreamConfig) engine.RetryOptions {
	return engine.RetryOptions{
		MaxAttempts:       up.MaxAttempts,
		BaseDelay:         up.BaseDelay,
		MaxDelay:          up.MaxDelay,
		PerAttemptTimeout: up.Timeout,
	}
}

func newRankingsClient(up config.UpstreamConfig, logger *logging.Logger) *rankings.Client {
	return &rankings.Client{
		BaseURL: up.BaseURL,
		Fetcher: newFetcher(up, logger),
		Retry:   retryOptions(up),
		Batch: engine.BatchOptions{
			Width: up.BatchWidth,
			Pause: up.BatchPause,
		},
	}
}
