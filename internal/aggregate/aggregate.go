// Package aggregate ranks computed wallet metrics and summarizes them.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/yourorg/cabal-metrics/internal/model"
)

// Entry is one ranked wallet.
type Entry struct {
	Rank int `json:"rank"`
	model.MetricsResult
}

// Stats summarizes a set of wallets.
type Stats struct {
	Count             int       `json:"count"`
	MeanCabalPoints   float64   `json:"meanCabalPoints"`
	MedianCabalPoints float64   `json:"medianCabalPoints"`
	WeightedWinRate   float64   `json:"weightedWinRate"`
	TotalTrades       int64     `json:"totalTrades"`
	LatestUpdate      time.Time `json:"latestUpdate"`
}

// Leaderboard sorts results by cabal points, highest first. Ties are broken
// by total PnL (descending) and then by wallet address so the order is stable
// across runs. The input slice is not modified.
func Leaderboard(results []model.MetricsResult) []Entry {
	sorted := make([]model.MetricsResult, len(results))
	copy(sorted, results)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.CabalPoints != b.CabalPoints {
			return a.CabalPoints > b.CabalPoints
		}
		if a.TotalPnl != b.TotalPnl {
			return a.TotalPnl > b.TotalPnl
		}
		return a.Wallet < b.Wallet
	})

	entries := make([]Entry, len(sorted))
	for i, r := range sorted {
		entries[i] = Entry{Rank: i + 1, MetricsResult: r}
	}
	return entries
}

// Summarize computes mean and median cabal points and the win rate weighted by
// trade count. Wallets without trades do not contribute to the win rate.
func Summarize(results []model.MetricsResult) Stats {
	stats := Stats{Count: len(results)}
	if len(results) == 0 {
		return stats
	}

	var totalPoints, weightedWins float64
	for _, r := range results {
		totalPoints += r.CabalPoints
		if r.TotalTrades > 0 {
			weightedWins += r.WinRate * float64(r.TotalTrades)
			stats.TotalTrades += r.TotalTrades
		}
		if t := r.UpdatedTime(); t.After(stats.LatestUpdate) {
			stats.LatestUpdate = t
		}
	}

	stats.MeanCabalPoints = round2(totalPoints / float64(len(results)))
	stats.MedianCabalPoints = round2(Median(results, func(r model.MetricsResult) float64 { return r.CabalPoints }))
	if stats.TotalTrades > 0 {
		stats.WeightedWinRate = round2(weightedWins / float64(stats.TotalTrades))
	}
	return stats
}

// Median returns the median of selector over results, or 0 when empty.
func Median(results []model.MetricsResult, selector func(model.MetricsResult) float64) float64 {
	if len(results) == 0 {
		return 0
	}

	values := make([]float64, 0, len(results))
	for _, r := range results {
		values = append(values, selector(r))
	}

	sort.Float64s(values)
	n := len(values)

	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}

func round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return math.Round(x*100) / 100
}
