// Package vendors holds the Adapter implementations for the supported
// sensor clouds and the resilient HTTP transport they share.
package vendors

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/i474232898/sensor-data-aggregation/internal/logger"
	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig

	// Timeout bounds a single attempt, body included. Zero disables it.
	Timeout time.Duration

	// RPS throttles outgoing calls per vendor. Zero disables throttling.
	RPS float64

	Logger *zap.SugaredLogger
}

// DefaultHTTPClientConfig returns the settings used when a vendor is built
// from configuration.
func DefaultHTTPClientConfig(client *http.Client) HTTPClientConfig {
	if client == nil {
		client = &http.Client{}
	}
	return HTTPClientConfig{
		Client: client,
		Backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Timeout: 30 * time.Second,
	}
}

var (
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// retryableStatus marks a response worth another attempt (429 or 5xx).
type retryableStatus struct {
	resp response
}

func (e *retryableStatus) Error() string {
	return http.StatusText(e.resp.Status)
}

// response is a fully-read HTTP response.
type response struct {
	Status int
	Body   []byte
	Header http.Header
}

// transport executes vendor calls with throttling, retries, a circuit
// breaker and a per-attempt timeout. Every status below 500 other than 429
// counts as a breaker success so cap signals such as 413 never trip it.
type transport struct {
	vendor  string
	cfg     HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

func newTransport(vendor string, cfg HTTPClientConfig) *transport {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        vendor,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &transport{
		vendor:  vendor,
		cfg:     cfg,
		circuit: cb,
		limiter: limiter,
		log:     log.With(logger.FieldVendor, vendor),
	}
}

// do sends the request built by buildRequest and returns the read response.
// Transport failures come back as *sensor.RemoteError with Status 0; a
// persistent 429/5xx comes back as *sensor.RemoteError with that status.
// Other statuses are returned to the caller for classification.
func (t *transport) do(ctx context.Context, buildRequest func(ctx context.Context) (*http.Request, error)) (response, error) {
	if t.cfg.Client == nil {
		return response{}, errNoHTTPClient
	}

	var out response
	operation := func() error {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if t.cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		}
		defer cancel()

		req, err := buildRequest(attemptCtx)
		if err != nil {
			return backoff.Permanent(err)
		}

		result, err := t.circuit.Execute(func() (interface{}, error) {
			resp, execErr := t.cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, readErr
			}
			r := response{Status: resp.StatusCode, Body: body, Header: resp.Header}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, &retryableStatus{resp: r}
			}
			return r, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(errors.Wrap(errCircuitOpen, err.Error()))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		resp, ok := result.(response)
		if !ok {
			return backoff.Permanent(errors.New("unexpected result type from circuit breaker"))
		}
		out = resp
		return nil
	}

	var policy backoff.BackOff
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = t.cfg.Backoff.InitialInterval
	exp.MaxInterval = t.cfg.Backoff.MaxInterval
	exp.MaxElapsedTime = 0 // rely on the context and MaxRetries
	policy = exp
	if t.cfg.Backoff.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(exp, uint64(t.cfg.Backoff.MaxRetries))
	}
	policy = backoff.WithContext(policy, ctx)

	notify := func(err error, wait time.Duration) {
		t.log.Warnw("vendor call failed, retrying", logger.FieldError, err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return response{}, t.remoteError(ctx, err)
	}
	return out, nil
}

func (t *transport) remoteError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var rs *retryableStatus
	if errors.As(err, &rs) {
		return &sensor.RemoteError{Vendor: t.vendor, Status: rs.resp.Status, Message: errorMessage(rs.resp.Body)}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &sensor.RemoteError{Vendor: t.vendor, Message: "call timed out after " + t.cfg.Timeout.String()}
	}
	return &sensor.RemoteError{Vendor: t.vendor, Message: err.Error()}
}

// checkStatus maps non-2xx statuses to the error taxonomy: 401/403 are auth
// failures, everything else a RemoteError.
func checkStatus(vendor string, r response) error {
	switch {
	case r.Status >= 200 && r.Status < 300:
		return nil
	case r.Status == http.StatusUnauthorized || r.Status == http.StatusForbidden:
		return &sensor.AuthError{Vendor: vendor, Status: r.Status, Message: errorMessage(r.Body)}
	default:
		return &sensor.RemoteError{Vendor: vendor, Status: r.Status, Message: errorMessage(r.Body)}
	}
}

// decodeJSON unmarshals a successful body into v.
func decodeJSON(vendor string, r response, v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &sensor.MalformedResponseError{Vendor: vendor, Status: r.Status, Detail: err.Error()}
	}
	return nil
}

// errorMessage extracts a human-readable message from an error document.
// Vendors disagree on the field name.
func errorMessage(body []byte) string {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err == nil {
		var parts []string
		for _, key := range []string{"detail", "error", "error_description", "message", "msg"} {
			if s, ok := doc[key].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ": ")
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		msg = "no response body"
	}
	return msg
}

func bearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
}
