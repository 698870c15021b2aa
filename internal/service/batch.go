package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/cabal-metrics/internal/model"
	"github.com/yourorg/cabal-metrics/internal/validation"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency caps in-flight wallet fetches within one batch.
const DefaultBatchConcurrency = 10

// BatchOutcome is the result of processing a wallet list.
// Results and Errors are in completion order.
type BatchOutcome struct {
	Results       []model.MetricsResult
	Errors        []model.WalletError
	UniqueWallets int
}

// Batch computes metrics for every distinct wallet, at most
// DefaultBatchConcurrency at a time. A failing wallet is recorded in Errors and
// never affects its siblings.
func (s *Service) Batch(ctx context.Context, wallets []string, window, hideDetails string) BatchOutcome {
	start := time.Now()
	unique := validation.Dedupe(wallets)

	out := BatchOutcome{
		Results:       make([]model.MetricsResult, 0, len(unique)),
		Errors:        make([]model.WalletError, 0),
		UniqueWallets: len(unique),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.batchConcurrency)

	for _, wallet := range unique {
		wallet := wallet
		g.Go(func() error {
			metrics, err := s.WalletMetrics(ctx, wallet, window, hideDetails)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"wallet": wallet,
					"error":  err,
				}).Warn("Batch wallet failed")
				out.Errors = append(out.Errors, model.WalletError{Wallet: wallet, Error: err.Error()})
				return nil
			}
			out.Results = append(out.Results, metrics)
			return nil
		})
	}
	_ = g.Wait()

	logrus.WithFields(logrus.Fields{
		"requested": len(wallets),
		"unique":    len(unique),
		"processed": len(out.Results),
		"errors":    len(out.Errors),
		"duration":  time.Since(start),
	}).Info("Batch complete")

	return out
}
