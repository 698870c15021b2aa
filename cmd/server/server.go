package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/cabal-metrics/internal/config"
	"github.com/yourorg/cabal-metrics/internal/export"
	"github.com/yourorg/cabal-metrics/internal/security"
	"github.com/yourorg/cabal-metrics/internal/service"
	"golang.org/x/time/rate"
)

// Server represents the metrics API server instance
type Server struct {
	// Configuration for the server
	config config.Config

	// Wallet metrics pipeline
	service *service.Service

	// HTTP server instance
	server *http.Server

	// Metrics registry, nil when metrics are disabled
	metrics *serverMetrics

	// Optional features
	limiter  *rate.Limiter
	signer   *security.Signer
	exporter *export.Exporter

	startTime time.Time
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithMetrics exposes m on /metrics and records request metrics into it.
func WithMetrics(m *serverMetrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithSigner signs metric responses.
func WithSigner(signer *security.Signer) ServerOption {
	return func(s *Server) { s.signer = signer }
}

// WithExporter queues computed results for export.
func WithExporter(e *export.Exporter) ServerOption {
	return func(s *Server) { s.exporter = e }
}

// NewServer creates a server around svc.
func NewServer(cfg config.Config, svc *service.Service, opts ...ServerOption) *Server {
	s := &Server{
		config:    cfg,
		service:   svc,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.EnableRateLimit && cfg.RateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	if cb := svc.Breaker(); cb != nil {
		cb.WithTripCallback(func(reason string, until time.Time) {
			logrus.WithField("until", until).Warnf("Circuit breaker tripped: %s", reason)
			if s.metrics != nil {
				s.metrics.breakerTrips.Inc()
			}
		})
		if s.metrics != nil {
			s.metrics.watchBreaker(cb)
		}
	}

	logrus.WithFields(logrus.Fields{
		"port":            cfg.Port,
		"rate_limit":      s.limiter != nil,
		"circuit_breaker": svc.Breaker() != nil,
		"metrics":         s.metrics != nil,
		"signing":         s.signer != nil,
		"export":          s.exporter.Enabled(),
	}).Info("Server initialized")

	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /metrics/{wallet}", s.instrument("wallet", s.rateLimited(s.handleWalletMetrics)))
	// A batch already fans out to many provider calls under its own bound
	mux.HandleFunc("POST /metrics/batch", s.instrument("batch", s.handleBatch))
	mux.HandleFunc("POST /leaderboard", s.instrument("leaderboard", s.rateLimited(s.handleLeaderboard)))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /circuit", s.handleCircuitStatus)
	mux.HandleFunc("POST /circuit", s.handleCircuitStatus)

	return withRequestID(mux)
}

// Start begins the HTTP server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully and drains the exporter.
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	if err := s.exporter.Stop(ctx); err != nil {
		logrus.Errorf("Final export failed: %v", err)
	}

	logrus.Info("Server stopped")
}
