package middleware

import (
	"net/http"
	"strings"

	"github.com/kektech/kektech/internal/core/engine"
)

// UnknownClient is the key used when no client address header is present.
const UnknownClient = engine.UnknownClientKey

// ClientKey derives the rate limit key for a request: the first entry of
// X-Forwarded-For, then X-Real-IP, otherwise UnknownClient. The socket
// address is ignored since the app always sits behind the edge proxy.
func ClientKey(r *http.Request) string {
	if r == nil {
		return UnknownClient
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	return UnknownClient
}
