package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/cabal-metrics/internal/aggregate"
	"github.com/yourorg/cabal-metrics/internal/fetch"
	"github.com/yourorg/cabal-metrics/internal/model"
	"github.com/yourorg/cabal-metrics/internal/otel"
	"github.com/yourorg/cabal-metrics/internal/validation"
)

const maxBodyBytes = 1 << 20

// batchRequest is the body of the batch and leaderboard endpoints. Wallets is
// decoded lazily so a non-list value is reported as a bad request rather
// than malformed JSON.
type batchRequest struct {
	Wallets         json.RawMessage `json:"wallets"`
	ShowHistoricPnL string          `json:"showHistoricPnL"`
	HideDetails     string          `json:"hideDetails"`
}

type batchSummary struct {
	TotalRequested int                  `json:"totalRequested"`
	TotalProcessed int                  `json:"totalProcessed"`
	TotalErrors    int                  `json:"totalErrors"`
	UniqueWallets  int                  `json:"uniqueWallets"`
	CacheStats     model.CallStatistics `json:"cacheStats"`
}

type batchResponse struct {
	Results []model.MetricsResult `json:"results"`
	Errors  []model.WalletError   `json:"errors"`
	Summary batchSummary          `json:"summary"`
}

type leaderboardResponse struct {
	Entries []aggregate.Entry   `json:"entries"`
	Stats   aggregate.Stats     `json:"stats"`
	Errors  []model.WalletError `json:"errors"`
	Summary batchSummary        `json:"summary"`
}

// handleWalletMetrics serves GET /metrics/{wallet}.
func (s *Server) handleWalletMetrics(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	query := r.URL.Query()

	result, err := s.service.WalletMetrics(r.Context(), wallet, query.Get("showHistoricPnL"), query.Get("hideDetails"))
	if err != nil {
		s.walletError(w, r, wallet, err)
		return
	}

	s.recordResults(result)
	s.writeSigned(w, r, http.StatusOK, result)
}

func (s *Server) walletError(w http.ResponseWriter, r *http.Request, wallet string, err error) {
	var rateLimit *fetch.RateLimitError

	switch {
	case errors.Is(err, validation.ErrInvalidWallet):
		s.errorResponse(w, r, http.StatusBadRequest, apiError{
			Error:   "Invalid wallet address",
			Message: "Please provide a valid Solana wallet address (base58 format, 32-44 characters)",
		})
	case errors.As(err, &rateLimit):
		retryAfter := strconv.Itoa(rateLimit.RetryAfter)
		w.Header().Set("Retry-After", retryAfter)
		s.errorResponse(w, r, http.StatusTooManyRequests, apiError{
			Error:      "Rate limit exceeded",
			Message:    "Too many requests. Please try again later.",
			RetryAfter: retryAfter,
		})
	case errors.Is(err, fetch.ErrRequestTimeout):
		s.errorResponse(w, r, http.StatusRequestTimeout, apiError{
			Error:   "Request timeout",
			Message: "The request to SolanaTracker timed out. Please try again.",
		})
	default:
		otel.RecordError(r.Context(), err)
		logrus.WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"wallet":     wallet,
			"error":      err,
		}).Error("Error fetching metrics")
		s.errorResponse(w, r, http.StatusInternalServerError, apiError{
			Error:   "Internal server error",
			Message: "Failed to fetch wallet metrics. Please try again later.",
		})
	}
}

// handleBatch serves POST /metrics/batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, wallets, ok := s.parseBatch(w, r)
	if !ok {
		return
	}

	out := s.service.Batch(r.Context(), wallets, req.ShowHistoricPnL, req.HideDetails)
	s.recordResults(out.Results...)

	s.writeSigned(w, r, http.StatusOK, batchResponse{
		Results: out.Results,
		Errors:  out.Errors,
		Summary: s.summary(len(wallets), out.UniqueWallets, len(out.Results), len(out.Errors)),
	})
}

// handleLeaderboard serves POST /leaderboard: the batch pipeline followed by ranking.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	req, wallets, ok := s.parseBatch(w, r)
	if !ok {
		return
	}

	out := s.service.Batch(r.Context(), wallets, req.ShowHistoricPnL, req.HideDetails)
	s.recordResults(out.Results...)

	s.writeSigned(w, r, http.StatusOK, leaderboardResponse{
		Entries: aggregate.Leaderboard(out.Results),
		Stats:   aggregate.Summarize(out.Results),
		Errors:  out.Errors,
		Summary: s.summary(len(wallets), out.UniqueWallets, len(out.Results), len(out.Errors)),
	})
}

// decodeBody decodes exactly one JSON value from body into v.
func decodeBody(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// parseBatch decodes and validates a batch body. On failure it has already
// written the 400 response and ok is false. No provider call happens before
// every wallet has been validated.
func (s *Server) parseBatch(w http.ResponseWriter, r *http.Request) (req batchRequest, wallets []string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r.Body, &req); err != nil {
		s.errorResponse(w, r, http.StatusBadRequest, apiError{
			Error:   "Invalid JSON",
			Message: "Please provide a valid JSON body with a wallets array",
		})
		return req, nil, false
	}

	var items []any
	if len(req.Wallets) == 0 || json.Unmarshal(req.Wallets, &items) != nil || len(items) == 0 {
		s.errorResponse(w, r, http.StatusBadRequest, apiError{
			Error:   "Invalid request body",
			Message: "Please provide a wallets array with at least one wallet address",
		})
		return req, nil, false
	}

	if len(items) > validation.MaxBatchSize {
		s.errorResponse(w, r, http.StatusBadRequest, apiError{
			Error:   "Too many wallets",
			Message: "Maximum 50 wallets allowed per batch request",
		})
		return req, nil, false
	}

	// Non-string entries are reported first, then invalid addresses in input order.
	wallets = make([]string, 0, len(items))
	invalid := make([]any, 0)
	for _, item := range items {
		wallet, isString := item.(string)
		if !isString {
			invalid = append(invalid, item)
			continue
		}
		wallets = append(wallets, wallet)
	}
	for _, wallet := range validation.InvalidWallets(wallets) {
		invalid = append(invalid, wallet)
	}

	if len(invalid) > 0 {
		s.errorResponse(w, r, http.StatusBadRequest, apiError{
			Error:          "Invalid wallet addresses",
			Message:        "Some wallet addresses are invalid",
			InvalidWallets: invalid,
		})
		return req, nil, false
	}

	return req, wallets, true
}

func (s *Server) summary(requested, unique, processed, failed int) batchSummary {
	return batchSummary{
		TotalRequested: requested,
		TotalProcessed: processed,
		TotalErrors:    failed,
		UniqueWallets:  unique,
		CacheStats:     s.service.CallStatistics(),
	}
}

// recordResults counts computed results and queues them for export.
func (s *Server) recordResults(results ...model.MetricsResult) {
	if s.metrics != nil {
		s.metrics.walletsProcessed.Add(float64(len(results)))
	}
	s.exporter.Add(results...)
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.Error(w, "Metrics disabled", http.StatusServiceUnavailable)
		return
	}
	s.metrics.handler().ServeHTTP(w, r)
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "operational",
		"uptime":  time.Since(s.startTime).String(),
		"version": version,
		"configuration": map[string]any{
			"provider_base_url": s.config.ProviderBaseURL,
			"default_window":    s.config.DefaultWindow,
			"hide_details":      s.config.DefaultHideDetails,
			"request_timeout":   s.config.RequestTimeout.String(),
			"cache_ttl":         s.config.CacheTTL.String(),
			"rate_limit":        s.limiter != nil,
			"circuit_breaker":   s.service.Breaker() != nil,
			"metrics":           s.metrics != nil,
			"export":            s.exporter.Enabled(),
		},
		"statistics": s.service.CallStatistics(),
		"cache_size": s.service.CacheSize(),
	}

	if cb := s.service.Breaker(); cb != nil {
		status["circuit_state"] = cb.GetState().String()
	}
	if s.signer != nil {
		status["signer"] = s.signer.PublicKey()
	}
	if s.exporter.Enabled() {
		status["export_pending"] = s.exporter.Pending()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleCircuitStatus allows viewing and controlling the circuit breaker
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	cb := s.service.Breaker()
	if cb == nil {
		http.Error(w, "Circuit breaker not enabled", http.StatusServiceUnavailable)
		return
	}

	response := map[string]any{}

	// Allow reset operation via POST
	if r.Method == http.MethodPost {
		if action := r.URL.Query().Get("action"); action != "reset" {
			s.errorResponse(w, r, http.StatusBadRequest, apiError{
				Error:   "Invalid action",
				Message: "Supported actions: reset",
			})
			return
		}
		cb.Reset()
		response["message"] = "Circuit breaker reset"
	}

	snapshot := cb.Snapshot()
	response["state"] = snapshot.State
	response["trips"] = snapshot.Trips
	if !snapshot.OpenUntil.IsZero() {
		response["open_until"] = snapshot.OpenUntil.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, response)
}
