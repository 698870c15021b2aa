// Package model defines the core data structures for the cabal metrics service.
package model

import (
	"time"
)

// ProviderSummary is the trading summary the PnL provider returns for a wallet
// over the requested window. Fields missing from the provider payload decode
// to zero, so callers never need to guard against absent values.
type ProviderSummary struct {
	// Realized is the realized profit and loss in USD
	Realized float64 `json:"realized"`

	// Unrealized is the mark-to-market PnL of open positions
	Unrealized float64 `json:"unrealized"`

	Total float64 `json:"total"`

	// TotalInvested is the total amount spent on buys within the window
	TotalInvested float64 `json:"totalInvested"`

	// Trade counts arrive as plain JSON numbers and may carry a fraction
	TotalWins   float64 `json:"totalWins"`
	TotalLosses float64 `json:"totalLosses"`

	AverageBuyAmount float64 `json:"averageBuyAmount"`

	// Percentages are expressed on a 0-100 scale
	WinPercentage     float64 `json:"winPercentage"`
	LossPercentage    float64 `json:"lossPercentage"`
	NeutralPercentage float64 `json:"neutralPercentage"`
}

// ProviderResponse is the envelope returned by the provider's /pnl endpoint.
type ProviderResponse struct {
	Summary ProviderSummary `json:"summary"`
}

// EmptyResponse is what a wallet with no tracked trading history looks like.
func EmptyResponse() ProviderResponse {
	return ProviderResponse{}
}

// MetricsResult is the normalized, externally visible score for one wallet.
type MetricsResult struct {
	Wallet       string  `json:"wallet"`
	WinRate      float64 `json:"winRate"`
	TotalPnl     float64 `json:"totalPnl"`
	TotalTrades  int64   `json:"totalTrades"`
	CabalPoints  float64 `json:"cabalPoints"`
	SourceWindow string  `json:"sourceWindow"`
	UpdatedAt    string  `json:"updatedAt"`
}

// UpdatedTime parses UpdatedAt, returning the zero time if it is malformed.
func (m MetricsResult) UpdatedTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.UpdatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CallStatistics is a snapshot of the service's process-lifetime counters.
type CallStatistics struct {
	TotalFetches int64 `json:"totalFetches"`
	CacheHits    int64 `json:"cacheHits"`

	// ExternalCallLatency is the accumulated provider call time in milliseconds
	ExternalCallLatency int64 `json:"externalCallLatency"`
}

// WalletError records a per-wallet failure inside a batch.
type WalletError struct {
	Wallet string `json:"wallet"`
	Error  string `json:"error"`
}
