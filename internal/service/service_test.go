package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/cabal-metrics/internal/circuitbreaker"
	"github.com/yourorg/cabal-metrics/internal/config"
	"github.com/yourorg/cabal-metrics/internal/fetch"
	"github.com/yourorg/cabal-metrics/internal/model"
	"github.com/yourorg/cabal-metrics/internal/validation"
)

const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// testWallet returns a distinct valid address for i.
func testWallet(i int) string {
	return strings.Repeat("B", 40) + string(alphabet[(i/58)%58]) + string(alphabet[i%58])
}

type call struct {
	wallet, window, hideDetails string
}

type fakeProvider struct {
	mu       sync.Mutex
	calls    []call
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	respond  func(wallet string) (model.ProviderResponse, error)
}

func (f *fakeProvider) FetchRaw(ctx context.Context, wallet, window, hideDetails string) (model.ProviderResponse, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{wallet, window, hideDetails})
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.respond != nil {
		return f.respond(wallet)
	}
	return sampleResponse(), nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sampleResponse() model.ProviderResponse {
	return model.ProviderResponse{Summary: model.ProviderSummary{
		Realized:         21763.42521469071,
		TotalInvested:    127552.17788470752,
		TotalWins:        18,
		TotalLosses:      10,
		AverageBuyAmount: 1332.08,
		WinPercentage:    64.29,
	}}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.CacheTTL = 5 * time.Minute
	cfg.EnableCircuitBreaker = false
	return cfg
}

func newTestService(t *testing.T, provider fetch.Provider, opts ...Option) (*Service, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	opts = append([]Option{WithProvider(provider), WithClock(clock.Now)}, opts...)
	svc, err := New(testConfig(), opts...)
	require.NoError(t, err)
	return svc, clock
}

func TestFetchWalletData_CacheHit(t *testing.T) {
	provider := &fakeProvider{}
	svc, _ := newTestService(t, provider)
	ctx := context.Background()

	first, err := svc.FetchWalletData(ctx, testWallet(1), "30d", "yes")
	require.NoError(t, err)
	second, err := svc.FetchWalletData(ctx, testWallet(1), "30d", "yes")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.callCount(), "second call within TTL is served from cache")

	stats := svc.CallStatistics()
	assert.Equal(t, int64(1), stats.TotalFetches)
	assert.Equal(t, int64(1), stats.CacheHits)
}

func TestFetchWalletData_DefaultsShareCacheKey(t *testing.T) {
	provider := &fakeProvider{}
	svc, _ := newTestService(t, provider)
	ctx := context.Background()

	_, err := svc.FetchWalletData(ctx, testWallet(1), "", "")
	require.NoError(t, err)
	_, err = svc.FetchWalletData(ctx, testWallet(1), "30d", "yes")
	require.NoError(t, err)

	require.Equal(t, 1, provider.callCount())
	assert.Equal(t, call{testWallet(1), "30d", "yes"}, provider.calls[0], "omitted values take configured defaults")

	_, err = svc.FetchWalletData(ctx, testWallet(1), "7d", "yes")
	require.NoError(t, err)
	_, err = svc.FetchWalletData(ctx, testWallet(1), "30d", "no")
	require.NoError(t, err)
	assert.Equal(t, 3, provider.callCount(), "window and detail flag are part of the key")
}

func TestFetchWalletData_CacheExpiry(t *testing.T) {
	var version atomic.Int32
	provider := &fakeProvider{respond: func(string) (model.ProviderResponse, error) {
		resp := sampleResponse()
		resp.Summary.Realized = float64(version.Add(1))
		return resp, nil
	}}
	svc, clock := newTestService(t, provider)
	ctx := context.Background()

	first, err := svc.FetchWalletData(ctx, testWallet(1), "30d", "yes")
	require.NoError(t, err)

	clock.Advance(5*time.Minute - time.Second)
	_, err = svc.FetchWalletData(ctx, testWallet(1), "30d", "yes")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount())

	clock.Advance(time.Second)
	refreshed, err := svc.FetchWalletData(ctx, testWallet(1), "30d", "yes")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount(), "expired entries trigger a fresh fetch")
	assert.NotEqual(t, first.Summary.Realized, refreshed.Summary.Realized)

	again, err := svc.FetchWalletData(ctx, testWallet(1), "30d", "yes")
	require.NoError(t, err)
	assert.Equal(t, refreshed, again, "the refreshed entry overwrote the stale one")
	assert.Equal(t, 2, provider.callCount())

	stats := svc.CallStatistics()
	assert.Equal(t, int64(2), stats.TotalFetches)
	assert.Equal(t, int64(2), stats.CacheHits)
}

func TestFetchWalletData_ErrorsAreNotCached(t *testing.T) {
	fail := true
	provider := &fakeProvider{respond: func(string) (model.ProviderResponse, error) {
		if fail {
			return model.ProviderResponse{}, &fetch.UpstreamError{StatusCode: 503, Status: "Service Unavailable"}
		}
		return sampleResponse(), nil
	}}
	svc, _ := newTestService(t, provider)
	ctx := context.Background()

	_, err := svc.FetchWalletData(ctx, testWallet(1), "30d", "yes")
	require.Error(t, err)

	fail = false
	_, err = svc.FetchWalletData(ctx, testWallet(1), "30d", "yes")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount())
}

func TestWalletMetrics(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{})

	got, err := svc.WalletMetrics(context.Background(), testWallet(1), "", "")
	require.NoError(t, err)
	assert.Equal(t, testWallet(1), got.Wallet)
	assert.Equal(t, "30d", got.SourceWindow, "omitted window reports the default")
	assert.Equal(t, 2198.58, got.CabalPoints)
	assert.Equal(t, int64(28), got.TotalTrades)

	got, err = svc.WalletMetrics(context.Background(), testWallet(1), "7d", "")
	require.NoError(t, err)
	assert.Equal(t, "7d", got.SourceWindow)
}

func TestWalletMetrics_InvalidWallet(t *testing.T) {
	provider := &fakeProvider{}
	svc, _ := newTestService(t, provider)

	_, err := svc.WalletMetrics(context.Background(), "not-a-wallet", "", "")
	assert.ErrorIs(t, err, validation.ErrInvalidWallet)
	assert.Zero(t, provider.callCount())
}

func TestFetchWalletData_BreakerFailsFastAfter429(t *testing.T) {
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	breaker := circuitbreaker.New().WithClock(clock.Now)

	throttled := true
	provider := &fakeProvider{respond: func(string) (model.ProviderResponse, error) {
		if throttled {
			return model.ProviderResponse{}, &fetch.RateLimitError{RetryAfter: 30}
		}
		return sampleResponse(), nil
	}}
	svc, err := New(testConfig(), WithProvider(provider), WithClock(clock.Now), WithBreaker(breaker))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.FetchWalletData(ctx, testWallet(1), "", "")
	var rl *fetch.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 30, rl.RetryAfter)

	clock.Advance(10 * time.Second)
	_, err = svc.FetchWalletData(ctx, testWallet(2), "", "")
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 20, rl.RetryAfter, "open breaker reports the remaining back-off")
	assert.Equal(t, 1, provider.callCount(), "no provider call while the breaker is open")

	throttled = false
	clock.Advance(20 * time.Second)
	_, err = svc.FetchWalletData(ctx, testWallet(2), "", "")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, svc.Breaker().GetState())
}

func TestBatch_Deduplicates(t *testing.T) {
	provider := &fakeProvider{}
	svc, _ := newTestService(t, provider)

	w1, w2 := testWallet(1), testWallet(2)
	out := svc.Batch(context.Background(), []string{w1, w1, w2}, "", "")

	assert.Equal(t, 2, out.UniqueWallets)
	assert.Len(t, out.Results, 2)
	assert.Empty(t, out.Errors)
	assert.Equal(t, 2, provider.callCount())

	count := 0
	for _, r := range out.Results {
		if r.Wallet == w1 {
			count++
		}
	}
	assert.Equal(t, 1, count, "a repeated wallet yields exactly one result")
}

func TestBatch_BoundedConcurrency(t *testing.T) {
	provider := &fakeProvider{delay: 20 * time.Millisecond}
	svc, _ := newTestService(t, provider)

	wallets := make([]string, 35)
	for i := range wallets {
		wallets[i] = testWallet(i)
	}

	out := svc.Batch(context.Background(), wallets, "", "")

	assert.Len(t, out.Results, 35)
	assert.Equal(t, 35, provider.callCount())
	peak := atomic.LoadInt32(&provider.maxSeen)
	assert.LessOrEqual(t, peak, int32(DefaultBatchConcurrency))
	assert.Greater(t, peak, int32(1), "wallets are fetched concurrently")
}

func TestBatch_PartialFailure(t *testing.T) {
	good, bad := testWallet(1), testWallet(2)

	var badHits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, bad) {
			badHits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"summary":{"realized":10,"totalWins":1,"totalLosses":1,"totalInvested":200,"averageBuyAmount":100,"winPercentage":50}}`))
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.ProviderBaseURL = ts.URL
	svc, err := New(cfg, WithBackoff(func(time.Duration, time.Duration, int, *http.Response) time.Duration { return 0 }))
	require.NoError(t, err)

	out := svc.Batch(context.Background(), []string{good, bad}, "", "")

	require.Len(t, out.Results, 1)
	assert.Equal(t, good, out.Results[0].Wallet)
	assert.Equal(t, 500.0, out.Results[0].CabalPoints)

	require.Len(t, out.Errors, 1)
	assert.Equal(t, bad, out.Errors[0].Wallet)
	assert.Equal(t, "HTTP 500: Internal Server Error", out.Errors[0].Error)
	assert.Equal(t, int32(2), badHits.Load(), "the failing wallet was retried once")

	stats := svc.CallStatistics()
	assert.Equal(t, int64(2), stats.TotalFetches)
	assert.GreaterOrEqual(t, stats.ExternalCallLatency, int64(0))
}

type countingObserver struct {
	hits, misses atomic.Int32
	outcomes     sync.Map
}

func (o *countingObserver) CacheHit()  { o.hits.Add(1) }
func (o *countingObserver) CacheMiss() { o.misses.Add(1) }
func (o *countingObserver) ProviderCall(outcome string, _ time.Duration) {
	o.outcomes.Store(outcome, true)
}

func TestObserver_ReceivesEvents(t *testing.T) {
	obs := &countingObserver{}
	provider := &fakeProvider{respond: func(wallet string) (model.ProviderResponse, error) {
		if wallet == testWallet(2) {
			return model.ProviderResponse{}, &fetch.TimeoutError{}
		}
		return sampleResponse(), nil
	}}
	svc, _ := newTestService(t, provider, WithObserver(obs))
	ctx := context.Background()

	_, _ = svc.FetchWalletData(ctx, testWallet(1), "", "")
	_, _ = svc.FetchWalletData(ctx, testWallet(1), "", "")
	_, _ = svc.FetchWalletData(ctx, testWallet(2), "", "")

	assert.Equal(t, int32(1), obs.hits.Load())
	assert.Equal(t, int32(2), obs.misses.Load())
	_, ok := obs.outcomes.Load(OutcomeSuccess)
	assert.True(t, ok)
	_, ok = obs.outcomes.Load(OutcomeTimeout)
	assert.True(t, ok)
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, 1, ceilSeconds(0))
	assert.Equal(t, 1, ceilSeconds(100*time.Millisecond))
	assert.Equal(t, 2, ceilSeconds(1500*time.Millisecond))
	assert.Equal(t, 30, ceilSeconds(30*time.Second))
}
