package core

import (
	"encoding/json"
	"strings"
	"time"
)

// UseCase identifies a rate-limited call site. Each use-case owns its own
// quota configuration and key space.
type UseCase string

const (
	UseCaseMint          UseCase = "mint"
	UseCaseRPC           UseCase = "rpc"
	UseCaseWalletConnect UseCase = "wallet_connect"
	UseCaseAPI           UseCase = "api"
)

// UseCases lists every known use-case in a stable order.
var UseCases = []UseCase{UseCaseMint, UseCaseRPC, UseCaseWalletConnect, UseCaseAPI}

// ParseUseCase normalizes a use-case name. Hyphens are accepted in place of
// underscores so URL paths can read naturally.
func ParseUseCase(value string) (UseCase, bool) {
	normalized := UseCase(normalizeUseCase(value))
	for _, candidate := range UseCases {
		if candidate == normalized {
			return candidate, true
		}
	}
	return "", false
}

func normalizeUseCase(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.ReplaceAll(value, "-", "_")
}

// FetchStatus is the outcome of an outbound call sequence.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchFailure FetchStatus = "failure"
)

// FetchResult is produced once per outbound call sequence and is not retained.
type FetchResult struct {
	Status     FetchStatus     `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	StatusCode int             `json:"status_code,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool {
	return r.Status == FetchSuccess
}
