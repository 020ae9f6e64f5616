package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/models"
)

// APIClient issues authenticated JSON requests against one provider base URL, sharing a
// token-bucket limiter across the connector's calls.
type APIClient struct {
	provider  string
	baseURL   string
	headers   map[string]string
	http      *httpclient.Client
	limiter   *rate.Limiter
	evaluator *expressions.Evaluator
}

// NewAPIClient creates a client. perSecond <= 0 disables rate limiting.
func NewAPIClient(provider, baseURL string, headers map[string]string, perSecond float64, deps Deps) *APIClient {
	evaluator := deps.Evaluator
	if evaluator == nil {
		evaluator = expressions.Default
	}
	return &APIClient{
		provider:  provider,
		baseURL:   strings.TrimRight(baseURL, "/"),
		headers:   headers,
		http:      deps.HTTP,
		limiter:   httpclient.NewLimiter(perSecond),
		evaluator: evaluator,
	}
}

func (c *APIClient) BaseURL() string {
	return c.baseURL
}

func (c *APIClient) Get(ctx context.Context, path string, query url.Values) (*httpclient.Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

func (c *APIClient) Do(ctx context.Context, method, path string, query url.Values, body any) (*httpclient.Response, error) {
	return c.http.Do(ctx, c.provider, c.limiter, httpclient.Request{
		Method:  method,
		URL:     c.baseURL + path,
		Query:   query,
		Headers: c.headers,
		Body:    body,
	})
}

// Records extracts the record list at expression from a JSON response.
func (c *APIClient) Records(resp *httpclient.Response, expression string) ([]map[string]any, error) {
	data, err := resp.JSON()
	if err != nil {
		return nil, err
	}
	return c.evaluator.Records(expression, data)
}

// String extracts a scalar at expression from a JSON response.
func (c *APIClient) String(resp *httpclient.Response, expression string) (string, error) {
	data, err := resp.JSON()
	if err != nil {
		return "", err
	}
	return c.evaluator.String(expression, data)
}

// Lookup returns table[key], or fallback when key is absent.
func Lookup(table map[string]string, key, fallback string) string {
	if v, ok := table[key]; ok {
		return v
	}
	return fallback
}

// Invert swaps keys and values of a one-to-one table.
func Invert(table map[string]string) map[string]string {
	out := make(map[string]string, len(table))
	for k, v := range table {
		out[v] = k
	}
	return out
}

// ProbeResult interprets a TestConnection request: a provider rejection means the credentials
// are wrong, anything else is an error reaching the provider.
func ProbeResult(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return false, nil
	}
	return false, err
}

// RateLimit returns the connection's configured rate or fallback.
func RateLimit(cfg models.ConnectionConfig, fallback float64) float64 {
	if cfg.RateLimit > 0 {
		return cfg.RateLimit
	}
	return fallback
}

// TruncatedError is returned with the records of a pull that stopped at the page limit.
type TruncatedError struct {
	Provider   string
	EntityType string
	Pages      int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("%s %s pull stopped after %d pages, remaining records were not fetched", e.Provider, e.EntityType, e.Pages)
}

func Truncated(provider, entityType string, pages int) error {
	return &TruncatedError{Provider: provider, EntityType: entityType, Pages: pages}
}

// Unsupported is the error for an entity type the connector does not handle.
func Unsupported(provider, entityType string) error {
	return apperrors.NewValidationError("entity_type", "%s does not support %q", provider, entityType)
}
