package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/cabal-metrics/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestKey_IsDeterministic(t *testing.T) {
	assert.Equal(t, "wallet|30d|yes", Key("wallet", "30d", "yes"))
	assert.NotEqual(t, Key("wallet", "30d", "yes"), Key("wallet", "30d", "no"))
	assert.NotEqual(t, Key("wallet", "30d", "yes"), Key("wallet", "7d", "yes"))
}

func TestStore_PutGetOverwrite(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s, err := New(10, WithClock(clock.Now))
	require.NoError(t, err)

	_, ok := s.Get("missing")
	assert.False(t, ok)

	first := model.ProviderResponse{Summary: model.ProviderSummary{Realized: 1}}
	s.Put("k", first)

	entry, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, first, entry.Response)
	assert.Equal(t, clock.t, entry.FetchedAt)

	clock.Advance(time.Minute)
	second := model.ProviderResponse{Summary: model.ProviderSummary{Realized: 2}}
	s.Put("k", second)

	entry, ok = s.Get("k")
	require.True(t, ok)
	assert.Equal(t, second, entry.Response)
	assert.Equal(t, clock.t, entry.FetchedAt)
	assert.Equal(t, 1, s.Len())
}

func TestStore_StaleEntriesAreKept(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s, err := New(10, WithClock(clock.Now))
	require.NoError(t, err)

	s.Put("k", model.EmptyResponse())
	ttl := 5 * time.Minute

	entry, ok := s.Get("k")
	require.True(t, ok)
	assert.True(t, entry.Fresh(ttl, clock.Now()))

	clock.Advance(ttl)
	entry, ok = s.Get("k")
	require.True(t, ok, "stale entries are not evicted on read")
	assert.False(t, entry.Fresh(ttl, clock.Now()))
}

func TestStore_CapacityBound(t *testing.T) {
	s, err := New(2)
	require.NoError(t, err)

	s.Put("a", model.EmptyResponse())
	s.Put("b", model.EmptyResponse())
	s.Put("c", model.EmptyResponse())

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok, "least recently used key is dropped at capacity")
}

func TestNew_DefaultCapacity(t *testing.T) {
	s, err := New(0)
	require.NoError(t, err)
	assert.NotNil(t, s)
}
