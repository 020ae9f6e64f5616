package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	// DefaultTimeout bounds a single attempt
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// MaxRequestSize is the maximum request body size (5MB)
	MaxRequestSize = 5 * 1024 * 1024
)

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns default HTTP client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
		MaxRetries:      3,
		BaseBackoff:     500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
	}
}

// Client is the provider HTTP client shared by every connector
type Client struct {
	client *http.Client
	cfg    Config
	logger ectologger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, logger ectologger.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
	}

	return &Client{
		client: &http.Client{Transport: transport},
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Request describes one provider call. Body is marshalled as JSON when set.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    any
}

// Response is a fully read provider response
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// JSON decodes the body into a generic value
func (r *Response) JSON() (any, error) {
	if len(r.Body) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(r.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return out, nil
}

// Decode unmarshals the body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// StatusError is a non-retryable provider rejection such as 400, 401 or 404.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: request rejected with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Do sends req, waiting on limiter before each attempt. Network failures, timeouts, 429 and 5xx
// responses are retried with exponential backoff and jitter; once retries are exhausted they
// surface as *apperrors.TransientProviderError. Other non-2xx responses return *StatusError.
func (c *Client) Do(ctx context.Context, provider string, limiter *rate.Limiter, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "httpclient.Do")
	defer span.End()

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, provider, req, body)
		if err == nil {
			return resp, nil
		}
		if !apperrors.IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		c.logger.WithContext(ctx).WithError(err).Warnf("%s request %s %s failed, attempt %d of %d",
			provider, req.Method, req.URL, attempt+1, c.cfg.MaxRetries+1)
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, provider string, req Request, body []byte) (*Response, error) {
	attemptCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := newHTTPRequest(attemptCtx, req, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordHTTPRequest(provider, httpReq.Method, "error", duration.Seconds())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperrors.TransientProviderError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, &apperrors.TransientProviderError{Provider: provider, StatusCode: resp.StatusCode, Err: err}
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("%s: response body too large: %d bytes (max %d)", provider, len(data), MaxResponseSize)
	}

	metrics.RecordHTTPRequest(provider, httpReq.Method, strconv.Itoa(resp.StatusCode), duration.Seconds())
	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", httpReq.Method, httpReq.URL.Redacted(), resp.StatusCode, duration)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &apperrors.TransientProviderError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        errors.New(truncate(string(data), 200)),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: truncate(string(data), 500)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
		Duration:   duration,
	}, nil
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff, with up to 20% jitter.
// A longer Retry-After from the provider wins.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	d := c.cfg.BaseBackoff << (attempt - 1)
	if d <= 0 || d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	if d > 0 {
		d += time.Duration(rand.Int64N(int64(d)/5 + 1))
	}

	var transient *apperrors.TransientProviderError
	if errors.As(lastErr, &transient) && transient.RetryAfter > d {
		d = min(transient.RetryAfter, c.cfg.MaxBackoff)
	}
	return d
}

func newHTTPRequest(ctx context.Context, req Request, body []byte) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(req.Query) > 0 {
		query := parsed.Query()
		for key, values := range req.Query {
			for _, v := range values {
				query.Add(key, v)
			}
		}
		parsed.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, parsed.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	if len(data) > MaxRequestSize {
		return nil, fmt.Errorf("request body too large: %d bytes (max %d)", len(data), MaxRequestSize)
	}
	return data, nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return time.Until(at)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewLimiter returns a token bucket allowing perSecond requests with a burst of the same size.
// A non-positive rate disables limiting.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
