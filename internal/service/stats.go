package service

import (
	"sync/atomic"
	"time"

	"github.com/yourorg/cabal-metrics/internal/model"
)

// Stats holds the process-lifetime call counters.
type Stats struct {
	totalFetches atomic.Int64
	cacheHits    atomic.Int64
	latency      atomic.Int64 // nanoseconds
}

// AddLatency accumulates the duration of a successful provider call.
func (s *Stats) AddLatency(d time.Duration) {
	s.latency.Add(int64(d))
}

// Snapshot returns a copy of the counters. Latency is reported in milliseconds.
func (s *Stats) Snapshot() model.CallStatistics {
	return model.CallStatistics{
		TotalFetches:        s.totalFetches.Load(),
		CacheHits:           s.cacheHits.Load(),
		ExternalCallLatency: time.Duration(s.latency.Load()).Milliseconds(),
	}
}

// Observer receives per-call events, typically to feed Prometheus.
type Observer interface {
	CacheHit()
	CacheMiss()
	ProviderCall(outcome string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) CacheHit()                          {}
func (noopObserver) CacheMiss()                         {}
func (noopObserver) ProviderCall(string, time.Duration) {}
