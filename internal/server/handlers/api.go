package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/core/engine"
	"github.com/kektech/kektech/internal/core/rankings"
	apperrors "github.com/kektech/kektech/internal/errors"
	"github.com/kektech/kektech/internal/metrics"
	"github.com/kektech/kektech/internal/observability"
	servermw "github.com/kektech/kektech/internal/server/middleware"
)

// MaxEnrichIDs bounds the ids accepted by one GET /api/nfts?ids= call.
const MaxEnrichIDs = 100

// RankingsCacheControl lets the CDN serve rankings for 5 minutes and stale
// for another 10 while it revalidates.
const RankingsCacheControl = "public, s-maxage=300, stale-while-revalidate=600"

// RankingsSource is the upstream used by the rankings and metadata routes.
type RankingsSource interface {
	Rankings(ctx context.Context, collection string) (core.FetchResult, error)
	Metadata(ctx context.Context, collection, tokenID string) (core.FetchResult, error)
	Enrich(ctx context.Context, collection string, tokenIDs []string) (rankings.Enrichment, error)
}

// API serves the /api routes. Quota enforcement for the proxied routes is
// applied by router middleware; Preflight consumes quota itself.
type API struct {
	Source     RankingsSource
	Collection string
	RPCProxy   *RPCProxy
	Limiters   engine.Limiters
	Clock      func() time.Time
}

// Rankings handles GET /api/rankings.
func (a *API) Rankings(w http.ResponseWriter, r *http.Request) {
	result, err := a.Source.Rankings(r.Context(), a.Collection)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "rankings client is not configured"))
		return
	}
	if !result.OK() {
		apperrors.RespondUpstreamUnavailable(w, r, result)
		return
	}

	w.Header().Set("Cache-Control", RankingsCacheControl)
	writeRawJSON(w, http.StatusOK, result.Payload)
}

// Token handles GET /api/nfts/{tokenID}.
func (a *API) Token(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenID")
	if err := rankings.ValidateTokenID(tokenID); err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid token id"))
		return
	}

	result, err := a.Source.Metadata(r.Context(), a.Collection, tokenID)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "metadata client is not configured"))
		return
	}
	if !result.OK() {
		apperrors.RespondUpstreamUnavailable(w, r, result)
		return
	}

	writeRawJSON(w, http.StatusOK, result.Payload)
}

// Tokens handles GET /api/nfts?ids=1,2,3 by enriching every id in batches.
func (a *API) Tokens(w http.ResponseWriter, r *http.Request) {
	ids := parseIDs(r.URL.Query().Get("ids"))
	switch {
	case len(ids) == 0:
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("ids query parameter is required"))
		return
	case len(ids) > MaxEnrichIDs:
		envelope := apperrors.NewInvalidInputError("too many ids")
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"count": len(ids),
			"max":   MaxEnrichIDs,
		})
		apperrors.RespondWithError(w, r, envelope)
		return
	}
	for _, id := range ids {
		if err := rankings.ValidateTokenID(id); err != nil {
			apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid token id"))
			return
		}
	}

	enrichment, err := a.Source.Enrich(r.Context(), a.Collection, ids)
	if err != nil && len(enrichment.Tokens) == 0 {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "metadata enrichment failed"))
		return
	}
	if enrichment.Succeeded == 0 && enrichment.Failed > 0 {
		apperrors.RespondUpstreamUnavailable(w, r, core.FetchResult{
			Status:   core.FetchFailure,
			Error:    enrichment.Tokens[0].Error,
			Attempts: enrichment.Tokens[0].Attempts,
		})
		return
	}

	writeJSON(w, http.StatusOK, enrichment)
}

// PreflightResponse reports the quota decision taken for a preflight call.
type PreflightResponse struct {
	Admitted  bool  `json:"admitted"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Preflight handles POST /api/preflight/{useCase} for the mint and
// wallet-connect flows. Each call consumes one unit of the caller's quota.
func (a *API) Preflight(w http.ResponseWriter, r *http.Request) {
	useCase, ok := core.ParseUseCase(chi.URLParam(r, "useCase"))
	if !ok || (useCase != core.UseCaseMint && useCase != core.UseCaseWalletConnect) {
		apperrors.RespondWithError(w, r, apperrors.NewNotFoundError("unknown preflight use-case"))
		return
	}

	limiter := a.Limiters.For(useCase)
	if limiter == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("rate limiter not configured"))
		return
	}

	decision, err := limiter.CheckAndConsume(r.Context(), servermw.ClientKey(r))
	if err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Quota store unavailable; admitting request",
			zap.String("use_case", string(useCase)),
			zap.Error(err))
	}
	metrics.RecordQuotaDecision(string(useCase), decision.Admitted)

	if !decision.Admitted {
		apperrors.RespondRateLimited(w, r, decision, a.now())
		return
	}

	apperrors.SetRateLimitHeaders(w, decision)
	writeJSON(w, http.StatusOK, PreflightResponse{
		Admitted:  true,
		Limit:     decision.Limit,
		Remaining: decision.Remaining,
		Reset:     decision.ResetAt.Unix(),
	})
}

// RPC handles POST /api/rpc.
func (a *API) RPC(w http.ResponseWriter, r *http.Request) {
	if a.RPCProxy == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("rpc endpoint not configured"))
		return
	}
	a.RPCProxy.ServeHTTP(w, r)
}

func (a *API) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}

func parseIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRawJSON(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
