package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/core/engine"
	apperrors "github.com/kektech/kektech/internal/errors"
	"github.com/kektech/kektech/internal/metrics"
	"github.com/kektech/kektech/internal/observability"
	servermw "github.com/kektech/kektech/internal/server/middleware"
)

// RateLimit gates a route behind the limiter's quota, keyed by client IP.
// Admitted responses carry the X-RateLimit-* headers; rejected requests get
// a 429 and never reach next. Store failures admit the request.
func RateLimit(limiter *engine.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := limiter.CheckAndConsume(r.Context(), servermw.ClientKey(r))
			if err != nil && observability.ServerLogger != nil {
				observability.ServerLogger.Warn("Quota store unavailable; admitting request",
					zap.String("use_case", string(limiter.UseCase)),
					zap.String("request_id", servermw.GetRequestID(r.Context())),
					zap.Error(err))
			}
			metrics.RecordQuotaDecision(string(limiter.UseCase), decision.Admitted)

			if !decision.Admitted {
				now := time.Now().UTC()
				if limiter.Clock != nil {
					now = limiter.Clock()
				}
				apperrors.RespondRateLimited(w, r, decision, now)
				return
			}

			apperrors.SetRateLimitHeaders(w, decision)
			next.ServeHTTP(w, r)
		})
	}
}
