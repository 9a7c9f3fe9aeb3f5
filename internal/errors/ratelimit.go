package errors

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/kektech/kektech/internal/core"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitedBody is the public 429 response body.
type RateLimitedBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	Reset     int64  `json:"reset"`
}

// UpstreamUnavailableBody is the public 503 response body.
type UpstreamUnavailableBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Retries int    `json:"retries"`
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for a decision. Reset
// is expressed in unix seconds.
func SetRateLimitHeaders(w http.ResponseWriter, decision core.Decision) {
	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.FormatInt(decision.Limit, 10))
	h.Set(HeaderRateLimitRemaining, strconv.FormatInt(decision.Remaining, 10))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(decision.ResetAt.Unix(), 10))
}

// RespondRateLimited writes a 429 for a rejected decision.
func RespondRateLimited(w http.ResponseWriter, r *http.Request, decision core.Decision, now time.Time) {
	if w == nil {
		return
	}

	retryAfter := decision.RetryAfter(now)
	message := "Too many requests. Try again in " + strconv.FormatInt(retryAfter, 10) + " seconds."

	envelope := errors.NewErrorEnvelope(CodeRateLimited, message)
	envelope, _ = envelope.WithContext(map[string]interface{}{
		"limit":       decision.Limit,
		"reset":       decision.ResetAt.Unix(),
		"retry_after": retryAfter,
	})
	statusCode := finalize(r, &envelope)

	SetRateLimitHeaders(w, decision)
	w.Header().Set(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))
	writeJSON(w, statusCode, RateLimitedBody{
		Error:     "Too Many Requests",
		Message:   message,
		Limit:     decision.Limit,
		Remaining: 0,
		Reset:     decision.ResetAt.Unix(),
	})
}

// RespondUpstreamUnavailable writes a 503 after the upstream retries were
// exhausted.
func RespondUpstreamUnavailable(w http.ResponseWriter, r *http.Request, result core.FetchResult) {
	if w == nil {
		return
	}

	message := "Upstream service unavailable"
	if result.Error != "" {
		message = message + ": " + result.Error
	}

	envelope := errors.NewErrorEnvelope(CodeUpstreamUnavailable, message)
	envelope, _ = envelope.WithContext(map[string]interface{}{
		"retries":     result.Attempts,
		"status_code": result.StatusCode,
	})
	envelope, _ = envelope.WithSeverity(errors.SeverityMedium)
	statusCode := finalize(r, &envelope)

	writeJSON(w, statusCode, UpstreamUnavailableBody{
		Error:   "Service Unavailable",
		Message: message,
		Retries: result.Attempts,
	})
}
