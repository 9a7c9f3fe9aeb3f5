// Package rankings is the typed client for the third-party NFT rankings and
// metadata API.
package rankings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/core/engine"
)

// NFTsField is the array field carried by collection rankings payloads.
const NFTsField = "nfts"

// Client fetches rankings and token metadata through the retrying fetcher.
type Client struct {
	BaseURL string
	Fetcher *engine.Fetcher
	Retry   engine.RetryOptions
	Batch   engine.BatchOptions
}

// TokenResult is the outcome of fetching one token's metadata.
type TokenResult struct {
	TokenID  string          `json:"token_id"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Error    string          `json:"error,omitempty"`
	Attempts int             `json:"attempts"`
}

// Enrichment merges metadata fetched for a set of tokens.
type Enrichment struct {
	Tokens    []TokenResult `json:"tokens"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Rankings fetches the ranked NFT list for a collection.
func (c *Client) Rankings(ctx context.Context, collection string) (core.FetchResult, error) {
	endpoint, err := c.endpoint("collections", collection, "rankings")
	if err != nil {
		return core.FetchResult{}, err
	}

	opts := c.Retry
	opts.ArrayField = NFTsField
	return c.Fetcher.FetchWithRetry(ctx, endpoint, opts), nil
}

// Metadata fetches one token's metadata object.
func (c *Client) Metadata(ctx context.Context, collection, tokenID string) (core.FetchResult, error) {
	if err := ValidateTokenID(tokenID); err != nil {
		return core.FetchResult{}, err
	}
	endpoint, err := c.endpoint("collections", collection, "nfts", tokenID)
	if err != nil {
		return core.FetchResult{}, err
	}

	opts := c.Retry
	opts.ArrayField = ""
	return c.Fetcher.FetchWithRetry(ctx, endpoint, opts), nil
}

// Enrich fetches metadata for every token in batches. Failures are reported
// per token and never abort the batch.
func (c *Client) Enrich(ctx context.Context, collection string, tokenIDs []string) (Enrichment, error) {
	for _, id := range tokenIDs {
		if err := ValidateTokenID(id); err != nil {
			return Enrichment{}, err
		}
	}
	if _, err := c.endpoint("collections", collection); err != nil {
		return Enrichment{}, err
	}

	started := time.Now()
	results, err := engine.FetchBatch(ctx, tokenIDs, c.Batch, func(ctx context.Context, tokenID string) TokenResult {
		result, err := c.Metadata(ctx, collection, tokenID)
		if err != nil {
			return TokenResult{TokenID: tokenID, Error: err.Error()}
		}
		out := TokenResult{TokenID: tokenID, Attempts: result.Attempts}
		if result.OK() {
			out.Metadata = result.Payload
		} else {
			out.Error = result.Error
		}
		return out
	})

	enrichment := Enrichment{Tokens: results}
	for i := range enrichment.Tokens {
		token := &enrichment.Tokens[i]
		if token.TokenID == "" {
			token.TokenID = tokenIDs[i]
			token.Error = "skipped: request cancelled"
		}
		if token.Error == "" {
			enrichment.Succeeded++
		} else {
			enrichment.Failed++
		}
	}
	enrichment.Elapsed = time.Since(started)
	return enrichment, err
}

// ValidateTokenID accepts decimal token ids.
func ValidateTokenID(tokenID string) error {
	if tokenID == "" {
		return errors.New("token id is required")
	}
	for _, r := range tokenID {
		if r < '0' || r > '9' {
			return fmt.Errorf("invalid token id %q", tokenID)
		}
	}
	return nil
}

func (c *Client) endpoint(parts ...string) (string, error) {
	if c == nil || c.Fetcher == nil {
		return "", errors.New("rankings client is not configured")
	}
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return "", errors.New("upstream base url is not configured")
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return "", errors.New("collection is required")
		}
	}
	return url.JoinPath(base, parts...)
}
