// Package cache keeps the last provider response per wallet query.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/yourorg/cabal-metrics/internal/model"
)

// DefaultMaxEntries bounds the store when no capacity is configured.
const DefaultMaxEntries = 10000

// Entry pairs a provider response with the time it was fetched.
type Entry struct {
	Response  model.ProviderResponse
	FetchedAt time.Time
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.FetchedAt) < ttl
}

// Store is a capacity-bounded map of cache keys to entries. Staleness is not
// enforced here: Get returns whatever was stored and callers decide with Fresh.
// Safe for concurrent use.
type Store struct {
	entries *lru.Cache[string, Entry]
	now     func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store holding at most maxEntries keys. Non-positive values use
// DefaultMaxEntries.
func New(maxEntries int, opts ...Option) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru store: %w", err)
	}

	s := &Store{entries: entries, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Key builds the composite cache key. Callers substitute configured defaults
// for an omitted window or detail flag before calling.
func Key(wallet, window, hideDetails string) string {
	return wallet + "|" + window + "|" + hideDetails
}

// Get returns the entry stored under key, stale or not.
func (s *Store) Get(key string) (Entry, bool) {
	return s.entries.Get(key)
}

// Put stores resp under key stamped with the current time, replacing any previous entry.
func (s *Store) Put(key string, resp model.ProviderResponse) {
	s.entries.Add(key, Entry{Response: resp, FetchedAt: s.now()})
}

// Len returns the number of stored keys, including stale ones.
func (s *Store) Len() int {
	return s.entries.Len()
}
