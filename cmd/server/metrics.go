package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourorg/cabal-metrics/internal/circuitbreaker"
)

// serverMetrics holds Prometheus metrics for the server. It also receives
// cache and provider events from the metrics service.
type serverMetrics struct {
	registry         *prometheus.Registry
	requestCounter   *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	breakerTrips     prometheus.Counter
	walletsProcessed prometheus.Counter
}

// registerMetrics sets up Prometheus metrics collection on a dedicated registry.
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cabal_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cabal_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cabal_provider_calls_total",
				Help: "Total number of calls to the PnL provider",
			},
			[]string{"outcome"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cabal_provider_call_duration_seconds",
				Help:    "PnL provider call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cabal_cache_lookups_total",
				Help: "Metrics cache lookups by result",
			},
			[]string{"result"},
		),
		breakerTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cabal_circuit_breaker_trips_total",
				Help: "Number of times the provider rate-limit breaker opened",
			},
		),
		walletsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cabal_wallets_processed_total",
				Help: "Number of wallet metrics successfully computed",
			},
		),
	}

	m.registry.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.providerCalls,
		m.providerDuration,
		m.cacheLookups,
		m.breakerTrips,
		m.walletsProcessed,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// watchBreaker exports the breaker state (0=closed, 1=open, 2=half-open).
func (m *serverMetrics) watchBreaker(cb *circuitbreaker.CircuitBreaker) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "cabal_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		func() float64 { return float64(cb.GetState()) },
	))
}

func (m *serverMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *serverMetrics) CacheHit()  { m.cacheLookups.WithLabelValues("hit").Inc() }
func (m *serverMetrics) CacheMiss() { m.cacheLookups.WithLabelValues("miss").Inc() }

func (m *serverMetrics) ProviderCall(outcome string, elapsed time.Duration) {
	m.providerCalls.WithLabelValues(outcome).Inc()
	m.providerDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
