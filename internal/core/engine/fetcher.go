package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kektech/kektech/internal/core"
)

const maxPayloadBytes = 16 << 20

var (
	// ErrUpstreamStatus marks an attempt that got a non-2xx response.
	ErrUpstreamStatus = errors.New("upstream returned non-success status")
	// ErrMalformedPayload marks an attempt whose body was not the expected JSON shape.
	ErrMalformedPayload = errors.New("malformed upstream payload")
)

// RetryOptions bounds one outbound call sequence.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// MaxDelay caps a single backoff. Zero leaves backoff uncapped.
	MaxDelay time.Duration

	PerAttemptTimeout time.Duration

	// ArrayField, when set, must name an array field of the payload object.
	ArrayField string
}

// DefaultRetryOptions mirror the upstream rankings API defaults.
var DefaultRetryOptions = RetryOptions{
	MaxAttempts:       3,
	BaseDelay:         time.Second,
	PerAttemptTimeout: 10 * time.Second,
}

// Backoff returns the delay awaited after the given failed attempt. Doubling
// saturates at the largest representable duration.
func (o RetryOptions) Backoff(attempt int) time.Duration {
	if attempt < 1 || o.BaseDelay <= 0 {
		return 0
	}
	delay := o.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
		if o.MaxDelay > 0 && delay >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	if o.MaxDelay > 0 && delay > o.MaxDelay {
		return o.MaxDelay
	}
	return delay
}

func (o RetryOptions) normalized() RetryOptions {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.BaseDelay < 0 {
		o.BaseDelay = 0
	}
	if o.PerAttemptTimeout <= 0 {
		o.PerAttemptTimeout = DefaultRetryOptions.PerAttemptTimeout
	}
	return o
}

// FetchState is a step of the retry loop.
type FetchState string

const (
	StateAttempting FetchState = "attempting"
	StateBackoff    FetchState = "backoff"
	StateSucceeded  FetchState = "succeeded"
	StateExhausted  FetchState = "exhausted"
)

// FetchEvent reports a transition of the retry loop.
type FetchEvent struct {
	URL        string
	State      FetchState
	Attempt    int
	Delay      time.Duration
	StatusCode int
	Err        error
}

// Fetcher performs outbound GETs with bounded retries.
type Fetcher struct {
	Client *http.Client
	// Pacer, when set, spaces every attempt to protect the upstream service.
	Pacer *rate.Limiter
	// Header is added to every outbound request, e.g. the upstream API key.
	Header   http.Header
	Logger   *logging.Logger
	Observer func(FetchEvent)
	Sleep    func(ctx context.Context, d time.Duration) error
	Clock    func() time.Time
}

// FetchWithRetry runs attempts until one succeeds or MaxAttempts is reached.
// It never returns an error; failures are reported in the result.
func (f *Fetcher) FetchWithRetry(ctx context.Context, url string, opts RetryOptions) core.FetchResult {
	if ctx == nil {
		ctx = context.Background()
	}
	opts = opts.normalized()
	started := f.now()

	var (
		state      = StateAttempting
		attempt    = 1
		payload    json.RawMessage
		statusCode int
		lastErr    error
	)

	for {
		switch state {
		case StateAttempting:
			f.emit(FetchEvent{URL: url, State: StateAttempting, Attempt: attempt})
			payload, statusCode, lastErr = f.attempt(ctx, url, opts)
			switch {
			case lastErr == nil:
				state = StateSucceeded
			case attempt >= opts.MaxAttempts || ctx.Err() != nil:
				state = StateExhausted
			default:
				state = StateBackoff
			}

		case StateBackoff:
			delay := opts.Backoff(attempt)
			f.emit(FetchEvent{URL: url, State: StateBackoff, Attempt: attempt, Delay: delay, StatusCode: statusCode, Err: lastErr})
			if err := f.sleep(ctx, delay); err != nil {
				lastErr = err
				state = StateExhausted
				continue
			}
			attempt++
			state = StateAttempting

		case StateSucceeded:
			f.emit(FetchEvent{URL: url, State: StateSucceeded, Attempt: attempt, StatusCode: statusCode})
			return core.FetchResult{
				Status:     core.FetchSuccess,
				Payload:    payload,
				Attempts:   attempt,
				StatusCode: statusCode,
				Elapsed:    f.now().Sub(started),
			}

		case StateExhausted:
			f.emit(FetchEvent{URL: url, State: StateExhausted, Attempt: attempt, StatusCode: statusCode, Err: lastErr})
			if f.Logger != nil {
				f.Logger.Warn("Upstream fetch failed",
					zap.String("url", url),
					zap.Int("attempts", attempt),
					zap.Int("status_code", statusCode),
					zap.Error(lastErr))
			}
			message := "upstream request failed"
			if lastErr != nil {
				message = lastErr.Error()
			}
			return core.FetchResult{
				Status:     core.FetchFailure,
				Error:      message,
				Attempts:   attempt,
				StatusCode: statusCode,
				Elapsed:    f.now().Sub(started),
			}
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, url string, opts RetryOptions) (json.RawMessage, int, error) {
	if f.Pacer != nil {
		if err := f.Pacer.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("pace upstream request: %w", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, opts.PerAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	for name, values := range f.Header {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client().Do(req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, 0, fmt.Errorf("upstream request timed out after %s", opts.PerAttemptTimeout)
		}
		return nil, 0, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadBytes))
		return nil, resp.StatusCode, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read upstream body: %w", err)
	}

	if err := ValidateShape(body, opts.ArrayField); err != nil {
		return nil, resp.StatusCode, err
	}

	return json.RawMessage(body), resp.StatusCode, nil
}

// ValidateShape performs the shallow payload check: body must be a JSON object
// and, when arrayField is set, that field must hold an array.
func ValidateShape(body []byte, arrayField string) error {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(body, &object); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if object == nil {
		return fmt.Errorf("%w: payload is null", ErrMalformedPayload)
	}
	if arrayField == "" {
		return nil
	}

	raw, ok := object[arrayField]
	if !ok {
		return fmt.Errorf("%w: missing %q field", ErrMalformedPayload, arrayField)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
		return fmt.Errorf("%w: field %q is not an array", ErrMalformedPayload, arrayField)
	}
	return nil
}

func (f *Fetcher) client() *http.Client {
	if f != nil && f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *Fetcher) emit(event FetchEvent) {
	if f != nil && f.Observer != nil {
		f.Observer(event)
	}
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if f != nil && f.Sleep != nil {
		return f.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (f *Fetcher) now() time.Time {
	if f != nil && f.Clock != nil {
		return f.Clock()
	}
	return time.Now().UTC()
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
