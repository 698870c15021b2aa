package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/cabal-metrics/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Provider is implemented by anything that can return a wallet's raw PnL summary.
type Provider interface {
	FetchRaw(ctx context.Context, wallet, window, hideDetails string) (model.ProviderResponse, error)
}

// Options configures a TrackerClient.
type Options struct {
	BaseURL string
	APIKey  string

	// BearerAuth sends "Authorization: Bearer KEY" instead of "x-api-key: KEY"
	BearerAuth bool

	// Timeout applies to each attempt
	Timeout time.Duration

	// Backoff overrides the jittered delay before the retry
	Backoff retryablehttp.Backoff

	// HTTPClient overrides the underlying transport client
	HTTPClient *http.Client

	// OnLatency receives the wall-clock time of every successful call
	OnLatency func(time.Duration)
}

// TrackerClient talks to the SolanaTracker-style /pnl endpoint.
type TrackerClient struct {
	baseURL    string
	apiKey     string
	bearerAuth bool
	client     *retryablehttp.Client
	onLatency  func(time.Duration)
	tracer     trace.Tracer
}

// NewTrackerClient creates a provider client from opts.
func NewTrackerClient(opts Options) *TrackerClient {
	if opts.APIKey == "" {
		logrus.Warn("Provider API key not set; requests will be unauthenticated")
	}
	return &TrackerClient{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		bearerAuth: opts.BearerAuth,
		client:     newRetryClient(opts.Timeout, opts.Backoff, opts.HTTPClient),
		onLatency:  opts.OnLatency,
		tracer:     otel.Tracer("cabal-metrics/fetch"),
	}
}

// FetchRaw retrieves the PnL summary for wallet over window.
//
// A 404 means the provider has no history for the wallet and yields an all-zero
// response. 429 yields *RateLimitError, an exhausted timeout *TimeoutError and
// any other non-2xx status *UpstreamError (after one retry for 5xx).
func (c *TrackerClient) FetchRaw(ctx context.Context, wallet, window, hideDetails string) (model.ProviderResponse, error) {
	ctx, span := c.tracer.Start(ctx, "provider.FetchRaw", trace.WithAttributes(
		attribute.String("wallet", wallet),
		attribute.String("window", window),
	))
	defer span.End()

	resp, err := c.fetch(ctx, wallet, window, hideDetails)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (c *TrackerClient) fetch(ctx context.Context, wallet, window, hideDetails string) (model.ProviderResponse, error) {
	start := time.Now()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.pnlURL(wallet, window, hideDetails), nil)
	if err != nil {
		return model.ProviderResponse{}, fmt.Errorf("error creating request: %w", err)
	}

	if c.bearerAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		req.Header.Set("x-api-key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	logrus.WithFields(logrus.Fields{
		"wallet": wallet,
		"window": window,
	}).Debug("Fetching wallet PnL from provider")

	resp, err := c.client.Do(req)
	if err != nil {
		// The passthrough handler can hand back the last response with the error
		if resp != nil {
			resp.Body.Close()
		}
		if isTimeout(err) {
			return model.ProviderResponse{}, &TimeoutError{Err: err}
		}
		return model.ProviderResponse{}, fmt.Errorf("error fetching data from provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		drain(resp.Body)
		return model.EmptyResponse(), nil
	case resp.StatusCode == http.StatusTooManyRequests:
		drain(resp.Body)
		return model.ProviderResponse{}, &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		drain(resp.Body)
		return model.ProviderResponse{}, &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
		}
	}

	var payload model.ProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if isTimeout(err) {
			return model.ProviderResponse{}, &TimeoutError{Err: err}
		}
		return model.ProviderResponse{}, fmt.Errorf("error decoding response: %w", err)
	}

	if c.onLatency != nil {
		c.onLatency(time.Since(start))
	}
	return payload, nil
}

func (c *TrackerClient) pnlURL(wallet, window, hideDetails string) string {
	query := url.Values{}
	query.Set("showHistoricPnL", window)
	query.Set("hideDetails", hideDetails)
	return c.baseURL + "/pnl/" + url.PathEscape(wallet) + "?" + query.Encode()
}

func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
}
