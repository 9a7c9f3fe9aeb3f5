package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/core"
	apperrors "github.com/kektech/kektech/internal/errors"
	"github.com/kektech/kektech/internal/observability"
)

const (
	maxRPCRequestBytes  = 1 << 20
	maxRPCResponseBytes = 8 << 20
)

// RPCProxy relays JSON-RPC calls to the chain RPC endpoint. Calls are made
// once with a timeout and never retried, since RPC methods are not
// guaranteed to be idempotent.
type RPCProxy struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// ServeHTTP forwards the request body and relays the upstream status and body.
func (p *RPCProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCRequestBytes))
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "unable to read rpc request"))
		return
	}
	if !json.Valid(body) {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("rpc request body must be JSON"))
		return
	}

	started := time.Now()
	status, payload, err := p.Forward(r.Context(), body)
	if err != nil {
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("RPC forward failed", zap.Error(err))
		}
		apperrors.RespondUpstreamUnavailable(w, r, core.FetchResult{
			Status:     core.FetchFailure,
			Error:      err.Error(),
			Attempts:   1,
			StatusCode: status,
			Elapsed:    time.Since(started),
		})
		return
	}

	writeRawJSON(w, status, payload)
}

// Forward posts body to the RPC endpoint. Any response with a JSON body is
// relayed as-is, whatever its status. Anything else is an error.
func (p *RPCProxy) Forward(ctx context.Context, body []byte) (int, []byte, error) {
	if p == nil || p.URL == "" {
		return 0, nil, errors.New("rpc url is not configured")
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, nil, fmt.Errorf("rpc request timed out after %s", timeout)
		}
		return 0, nil, fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read rpc response: %w", err)
	}
	if !json.Valid(payload) {
		return resp.StatusCode, nil, fmt.Errorf("rpc endpoint returned status %d without a JSON body", resp.StatusCode)
	}
	return resp.StatusCode, payload, nil
}
