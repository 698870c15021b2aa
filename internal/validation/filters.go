// Package validation provides wallet address validation and batch input filtering.
package validation

import (
	"errors"
	"regexp"

	"github.com/sirupsen/logrus"
)

const (
	// MinWalletLength and MaxWalletLength bound a base58 Solana address.
	MinWalletLength = 32
	MaxWalletLength = 44

	// MaxBatchSize is the largest wallet list a batch request may carry.
	MaxBatchSize = 50
)

// ErrInvalidWallet is returned when a wallet address fails validation.
var ErrInvalidWallet = errors.New("invalid wallet address")

// base58Pattern matches the Bitcoin/Solana base58 alphabet (no 0, O, I, l).
var base58Pattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// ValidateWallet reports whether candidate is a syntactically valid Solana address.
// It never touches the network, so unfunded accounts are accepted too.
func ValidateWallet(candidate string) bool {
	if len(candidate) < MinWalletLength || len(candidate) > MaxWalletLength {
		return false
	}
	return base58Pattern.MatchString(candidate)
}

// InvalidWallets returns every entry of wallets that fails ValidateWallet,
// in input order. Duplicated invalid entries are reported each time they appear.
func InvalidWallets(wallets []string) []string {
	invalid := make([]string, 0)
	for _, w := range wallets {
		if !ValidateWallet(w) {
			invalid = append(invalid, w)
		}
	}

	if len(invalid) > 0 {
		logrus.WithFields(logrus.Fields{
			"total":   len(wallets),
			"invalid": len(invalid),
		}).Debug("Filtered invalid wallet addresses")
	}

	return invalid
}

// Dedupe removes repeated wallets, keeping the first occurrence of each.
func Dedupe(wallets []string) []string {
	seen := make(map[string]struct{}, len(wallets))
	unique := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		unique = append(unique, w)
	}
	return unique
}
