// Package service composes the wallet validator, cache, provider client and
// score calculator into the metrics pipeline served over HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/cabal-metrics/internal/cache"
	"github.com/yourorg/cabal-metrics/internal/circuitbreaker"
	"github.com/yourorg/cabal-metrics/internal/config"
	"github.com/yourorg/cabal-metrics/internal/fetch"
	"github.com/yourorg/cabal-metrics/internal/model"
	"github.com/yourorg/cabal-metrics/internal/score"
	"github.com/yourorg/cabal-metrics/internal/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Provider call outcomes reported to the Observer.
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeTimeout     = "timeout"
	OutcomeUpstream    = "upstream_error"
	OutcomeError       = "error"
)

// Service is the metrics facade. It is safe for concurrent use; one instance
// is created at startup and shared by all handlers.
type Service struct {
	defaultWindow      string
	defaultHideDetails string
	cacheTTL           time.Duration
	batchConcurrency   int

	cache    *cache.Store
	provider fetch.Provider
	breaker  *circuitbreaker.CircuitBreaker
	stats    *Stats
	observer Observer
	now      func() time.Time
	tracer   trace.Tracer
}

type options struct {
	provider   fetch.Provider
	backoff    retryablehttp.Backoff
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	observer   Observer
	now        func() time.Time
}

// Option customizes a Service.
type Option func(*options)

// WithProvider replaces the provider client built from configuration.
func WithProvider(p fetch.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithBackoff overrides the delay before the provider retry.
func WithBackoff(b retryablehttp.Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBreaker sets the rate-limit circuit breaker, overriding configuration.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(o *options) { o.breaker = cb }
}

// WithObserver registers a receiver for cache and provider events.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithClock replaces the time source used for cache freshness.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds the service from cfg. Configuration is read once here.
func New(cfg config.Config, opts ...Option) (*Service, error) {
	o := options{
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	store, err := cache.New(cfg.CacheMaxEntries, cache.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	s := &Service{
		defaultWindow:      cfg.DefaultWindow,
		defaultHideDetails: cfg.DefaultHideDetails,
		cacheTTL:           cfg.CacheTTL,
		batchConcurrency:   DefaultBatchConcurrency,
		cache:              store,
		breaker:            o.breaker,
		stats:              &Stats{},
		observer:           o.observer,
		now:                o.now,
		tracer:             otel.Tracer("cabal-metrics/service"),
	}

	if s.breaker == nil && cfg.EnableCircuitBreaker {
		s.breaker = circuitbreaker.New()
	}

	s.provider = o.provider
	if s.provider == nil {
		s.provider = fetch.NewTrackerClient(fetch.Options{
			BaseURL:    cfg.ProviderBaseURL,
			APIKey:     cfg.ProviderAPIKey,
			BearerAuth: cfg.UseBearerAuth(),
			Timeout:    cfg.RequestTimeout,
			Backoff:    o.backoff,
			HTTPClient: o.httpClient,
			OnLatency:  s.stats.AddLatency,
		})
	}

	logrus.WithFields(logrus.Fields{
		"provider":        cfg.ProviderBaseURL,
		"default_window":  s.defaultWindow,
		"hide_details":    s.defaultHideDetails,
		"cache_ttl":       s.cacheTTL,
		"circuit_breaker": s.breaker != nil,
	}).Info("Metrics service initialized")

	return s, nil
}

// FetchWalletData returns the provider summary for wallet, from cache when a
// fresh entry exists. Empty window or hideDetails take the configured defaults.
func (s *Service) FetchWalletData(ctx context.Context, wallet, window, hideDetails string) (model.ProviderResponse, error) {
	window, hideDetails = s.resolve(window, hideDetails)
	key := cache.Key(wallet, window, hideDetails)

	ctx, span := s.tracer.Start(ctx, "service.FetchWalletData", trace.WithAttributes(
		attribute.String("wallet", wallet),
		attribute.String("window", window),
	))
	defer span.End()

	if entry, ok := s.cache.Get(key); ok && entry.Fresh(s.cacheTTL, s.now()) {
		s.stats.cacheHits.Add(1)
		s.observer.CacheHit()
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return entry.Response, nil
	}

	s.stats.totalFetches.Add(1)
	s.observer.CacheMiss()
	span.SetAttributes(attribute.Bool("cache_hit", false))

	// While the provider is throttling us every miss fails fast with the
	// remaining wait instead of spending another upstream call.
	if s.breaker != nil {
		if wait, ok := s.breaker.Allow(); !ok {
			return model.ProviderResponse{}, &fetch.RateLimitError{RetryAfter: ceilSeconds(wait)}
		}
	}

	start := time.Now()
	resp, err := s.provider.FetchRaw(ctx, wallet, window, hideDetails)
	s.observer.ProviderCall(outcome(err), time.Since(start))
	if err != nil {
		var rl *fetch.RateLimitError
		if s.breaker != nil && errors.As(err, &rl) {
			s.breaker.Trip(time.Duration(rl.RetryAfter)*time.Second, "provider returned 429")
		}
		return model.ProviderResponse{}, err
	}

	if s.breaker != nil {
		s.breaker.Success()
	}
	s.cache.Put(key, resp)
	return resp, nil
}

// CalculateMetrics derives the public metrics from a provider response.
func (s *Service) CalculateMetrics(wallet string, resp model.ProviderResponse, window string) model.MetricsResult {
	return score.Compute(wallet, resp.Summary, window)
}

// WalletMetrics validates wallet, fetches its summary and computes its metrics.
// The reported source window is the requested one, or the default when omitted.
func (s *Service) WalletMetrics(ctx context.Context, wallet, window, hideDetails string) (model.MetricsResult, error) {
	if !validation.ValidateWallet(wallet) {
		return model.MetricsResult{}, fmt.Errorf("%w: %q", validation.ErrInvalidWallet, wallet)
	}

	resp, err := s.FetchWalletData(ctx, wallet, window, hideDetails)
	if err != nil {
		return model.MetricsResult{}, err
	}

	window, _ = s.resolve(window, hideDetails)
	return s.CalculateMetrics(wallet, resp, window), nil
}

// CallStatistics returns a snapshot of the call counters.
func (s *Service) CallStatistics() model.CallStatistics {
	return s.stats.Snapshot()
}

// CacheSize returns the number of cached provider responses.
func (s *Service) CacheSize() int {
	return s.cache.Len()
}

// Breaker returns the rate-limit circuit breaker, or nil when disabled.
func (s *Service) Breaker() *circuitbreaker.CircuitBreaker {
	return s.breaker
}

// DefaultWindow is the window used when a request does not name one.
func (s *Service) DefaultWindow() string {
	return s.defaultWindow
}

func (s *Service) resolve(window, hideDetails string) (string, string) {
	if window == "" {
		window = s.defaultWindow
	}
	if hideDetails == "" {
		hideDetails = s.defaultHideDetails
	}
	return window, hideDetails
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, fetch.ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, fetch.ErrRequestTimeout):
		return OutcomeTimeout
	case errors.Is(err, fetch.ErrUpstream):
		return OutcomeUpstream
	default:
		return OutcomeError
	}
}

func ceilSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
