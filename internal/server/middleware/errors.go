package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/metrics"
	"github.com/kektech/kektech/internal/observability"
)

// ErrorResponse is the public error body. It mirrors the shape written by
// internal/errors, which cannot be imported here.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Recovery turns a handler panic into a 500 envelope. The panic value and
// stack go to the log only; clients see a generic message.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", "Internal server error").
				WithCorrelationID(GetRequestID(r.Context()))
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)

			metrics.RecordPanic()
			if observability.ServerLogger != nil {
				observability.ServerLogger.Error("recovered from panic",
					zap.String("panic", fmt.Sprint(recovered)),
					zap.String("path", r.URL.Path),
					zap.String("client", ClientKey(r)),
					zap.String("request_id", envelope.CorrelationID),
					zap.String("stack_trace", string(debug.Stack())),
				)
			}

			writeEnvelope(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

func writeEnvelope(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			RequestID: envelope.CorrelationID,
		},
	})
}
