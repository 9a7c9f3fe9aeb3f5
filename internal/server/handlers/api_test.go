package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/core/engine"
	"github.com/kektech/kektech/internal/core/quota"
	"github.com/kektech/kektech/internal/core/rankings"
)

type stubSource struct {
	rankings core.FetchResult
	metadata map[string]core.FetchResult
	enriched []string
}

func (s *stubSource) Rankings(ctx context.Context, collection string) (core.FetchResult, error) {
	return s.rankings, nil
}

func (s *stubSource) Metadata(ctx context.Context, collection, tokenID string) (core.FetchResult, error) {
	return s.metadata[tokenID], nil
}

func (s *stubSource) Enrich(ctx context.Context, collection string, tokenIDs []string) (rankings.Enrichment, error) {
	s.enriched = tokenIDs
	var out rankings.Enrichment
	for _, id := range tokenIDs {
		result := s.metadata[id]
		token := rankings.TokenResult{TokenID: id, Attempts: result.Attempts}
		if result.OK() {
			token.Metadata = result.Payload
			out.Succeeded++
		} else {
			token.Error = result.Error
			out.Failed++
		}
		out.Tokens = append(out.Tokens, token)
	}
	return out, nil
}

func okResult(payload string) core.FetchResult {
	return core.FetchResult{Status: core.FetchSuccess, Payload: json.RawMessage(payload), Attempts: 1}
}

func failed(message string, attempts int) core.FetchResult {
	return core.FetchResult{Status: core.FetchFailure, Error: message, Attempts: attempts}
}

func newTestAPI(source RankingsSource, now time.Time) (*API, http.Handler) {
	clock := func() time.Time { return now }
	limiters := engine.NewLimiters(quota.NewMemoryStore(time.Minute), nil, "test:")
	for _, limiter := range limiters {
		limiter.Clock = clock
	}

	api := &API{Source: source, Collection: "kektech", Limiters: limiters, Clock: clock}

	r := chi.NewRouter()
	r.Get("/api/rankings", api.Rankings)
	r.Get("/api/nfts", api.Tokens)
	r.Get("/api/nfts/{tokenID}", api.Token)
	r.Post("/api/preflight/{useCase}", api.Preflight)
	r.Post("/api/rpc", api.RPC)
	return api, r
}

func TestRankingsSetsCacheHeaders(t *testing.T) {
	_, router := newTestAPI(&stubSource{rankings: okResult(`{"nfts":[{"token_id":"1"}]}`)}, time.Now())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rankings", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RankingsCacheControl, rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"nfts":[{"token_id":"1"}]}`, rec.Body.String())
}

func TestRankingsUpstreamExhausted(t *testing.T) {
	_, router := newTestAPI(&stubSource{rankings: failed("upstream returned non-success status: 500", 3)}, time.Now())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rankings", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Service Unavailable", body["error"])
	assert.EqualValues(t, 3, body["retries"])
}

func TestTokenValidatesID(t *testing.T) {
	source := &stubSource{metadata: map[string]core.FetchResult{"7": okResult(`{"token_id":"7"}`)}}
	_, router := newTestAPI(source, time.Now())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nfts/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"token_id":"7"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nfts/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokensEnrichment(t *testing.T) {
	source := &stubSource{metadata: map[string]core.FetchResult{
		"1": okResult(`{"token_id":"1"}`),
		"2": failed("upstream returned non-success status: 404", 3),
	}}
	_, router := newTestAPI(source, time.Now())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nfts?ids=1,%202,,", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"1", "2"}, source.enriched)

	var body rankings.Enrichment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Succeeded)
	assert.Equal(t, 1, body.Failed)
}

func TestTokensAllFailed(t *testing.T) {
	source := &stubSource{metadata: map[string]core.FetchResult{
		"1": failed("upstream returned non-success status: 502", 3),
	}}
	_, router := newTestAPI(source, time.Now())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nfts?ids=1", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTokensRejectsBadInput(t *testing.T) {
	source := &stubSource{}
	_, router := newTestAPI(source, time.Now())

	ids := make([]string, MaxEnrichIDs+1)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}

	for name, query := range map[string]string{
		"missing":  "",
		"too many": strings.Join(ids, ","),
		"invalid":  "1,two",
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nfts?ids="+query, nil))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, source.enriched)
		})
	}
}

func TestPreflightConsumesQuota(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	_, router := newTestAPI(&stubSource{}, now)

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/preflight/mint", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	for i := 4; i >= 0; i-- {
		rec := call()
		require.Equal(t, http.StatusOK, rec.Code)

		var body PreflightResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Admitted)
		assert.EqualValues(t, 5, body.Limit)
		assert.EqualValues(t, i, body.Remaining)
		assert.Equal(t, now.Add(time.Minute).Unix(), body.Reset)
		assert.Equal(t, fmt.Sprint(i), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := call()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestPreflightWalletConnectAcceptsHyphen(t *testing.T) {
	_, router := newTestAPI(&stubSource{}, time.Now())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/preflight/wallet-connect", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestPreflightRejectsOtherUseCases(t *testing.T) {
	_, router := newTestAPI(&stubSource{}, time.Now())

	for _, useCase := range []string{"rpc", "api", "nope"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/preflight/"+useCase, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, useCase)
	}
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration, time.Time) (core.QuotaWindow, error) {
	return core.QuotaWindow{}, errors.New("store offline")
}

func (failingStore) Name() string { return "broken" }

func TestPreflightFailsOpen(t *testing.T) {
	api, router := newTestAPI(&stubSource{}, time.Now())
	api.Limiters = engine.NewLimiters(failingStore{}, nil, "test:")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/preflight/mint", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRPCProxyRelaysResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"}`, string(body))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	t.Cleanup(upstream.Close)

	api, router := newTestAPI(&stubSource{}, time.Now())
	api.RPCProxy = &RPCProxy{URL: upstream.URL, Client: upstream.Client(), Timeout: time.Second}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":"0x10"}`, rec.Body.String())
}

func TestRPCProxyTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		upstream.Close()
	})

	api, router := newTestAPI(&stubSource{}, time.Now())
	api.RPCProxy = &RPCProxy{URL: upstream.URL, Client: upstream.Client(), Timeout: 20 * time.Millisecond}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rpc", strings.NewReader(`{"id":1}`)))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["retries"])
	assert.Contains(t, body["message"], "timed out")
}

func TestRPCRejectsInvalidBody(t *testing.T) {
	api, router := newTestAPI(&stubSource{}, time.Now())
	api.RPCProxy = &RPCProxy{URL: "http://127.0.0.1:1"}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rpc", strings.NewReader("not json")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRPCNotConfigured(t *testing.T) {
	_, router := newTestAPI(&stubSource{}, time.Now())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rpc", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
