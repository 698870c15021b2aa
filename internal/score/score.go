// Package score turns a provider trading summary into the wallet's public metrics.
package score

import (
	"math"
	"time"

	"github.com/yourorg/cabal-metrics/internal/model"
)

const (
	// pointsMultiplier scales the base score into Cabal Points
	pointsMultiplier = 1000

	// MaxCabalPoints caps a single wallet's score
	MaxCabalPoints = 1e7
)

// Compute derives the metrics for wallet from summary, stamped with the current time.
// window is reported back as the source window.
func Compute(wallet string, summary model.ProviderSummary, window string) model.MetricsResult {
	return ComputeAt(wallet, summary, window, time.Now())
}

// ComputeAt is Compute with an explicit timestamp.
func ComputeAt(wallet string, summary model.ProviderSummary, window string, now time.Time) model.MetricsResult {
	return model.MetricsResult{
		Wallet:       wallet,
		WinRate:      round2(summary.WinPercentage),
		TotalPnl:     summary.Realized,
		TotalTrades:  int64(math.Round(summary.TotalWins + summary.TotalLosses)),
		CabalPoints:  CabalPoints(summary),
		SourceWindow: window,
		UpdatedAt:    now.UTC().Format(time.RFC3339Nano),
	}
}

// CabalPoints computes the trading score:
//
//	((totalInvested / totalTrades) / averageBuyAmount) * (winPercentage / 100) * 1000
//
// clamped to MaxCabalPoints and then rounded to two decimals. Wallets without
// trades or without a positive average buy score zero.
func CabalPoints(summary model.ProviderSummary) float64 {
	totalTrades := summary.TotalWins + summary.TotalLosses
	if totalTrades <= 0 || summary.AverageBuyAmount <= 0 {
		return 0
	}

	perTradeInvested := summary.TotalInvested / totalTrades
	base := perTradeInvested / summary.AverageBuyAmount
	winFraction := summary.WinPercentage / 100

	points := base * winFraction * pointsMultiplier
	points = math.Min(points, MaxCabalPoints)
	return round2(points)
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
