package pricecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoGainLoss/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type upstreamCall struct {
	currency string
	at       time.Time
}

// mockUpstream implements ports.PriceOracle for testing
type mockUpstream struct {
	mu      sync.Mutex
	price   decimal.Decimal
	err     error
	release chan struct{}
	calls   []upstreamCall
}

func (m *mockUpstream) USDPrice(ctx context.Context, currency string, at time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	m.calls = append(m.calls, upstreamCall{currency: currency, at: at})
	release := m.release
	m.mu.Unlock()
	if release != nil {
		<-release
	}
	return m.price, m.err
}

func (m *mockUpstream) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockStore implements ports.PriceStore for testing
type mockStore struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	getErr  error
	saveErr error
	saves   int
}

func newMockStore() *mockStore {
	return &mockStore{prices: make(map[string]decimal.Decimal)}
}

func (m *mockStore) GetPrice(ctx context.Context, currency string, bucket time.Time) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return decimal.Zero, false, m.getErr
	}
	p, ok := m.prices[cacheKey(currency, bucket)]
	return p, ok, nil
}

func (m *mockStore) SavePrice(ctx context.Context, currency string, bucket time.Time, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.prices[cacheKey(currency, bucket)] = price
	return nil
}

var at = time.Date(2017, 6, 1, 12, 0, 40, 0, time.UTC)

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Logger: &mockLogger{}})
	assert.Error(t, err)
	_, err = New(Config{Upstream: &mockUpstream{}})
	assert.Error(t, err)

	o, err := New(Config{Upstream: &mockUpstream{}, Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, o.bucket)
}

func TestOracle_CachesPerBucket(t *testing.T) {
	upstream := &mockUpstream{price: decimal.NewFromInt(250)}
	o, err := New(Config{Upstream: upstream, Logger: &mockLogger{}, Bucket: time.Minute})
	require.NoError(t, err)

	for _, ts := range []time.Time{at, at.Add(10 * time.Second), at.Add(-40 * time.Second)} {
		price, err := o.USDPrice(context.Background(), "eth", ts)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(250).Equal(price))
	}
	require.Equal(t, 1, upstream.callCount())
	assert.Equal(t, "ETH", upstream.calls[0].currency)
	assert.Equal(t, time.Date(2017, 6, 1, 12, 0, 0, 0, time.UTC), upstream.calls[0].at, "upstream is asked for the bucket start")

	_, err = o.USDPrice(context.Background(), "ETH", at.Add(time.Minute))
	require.NoError(t, err)
	_, err = o.USDPrice(context.Background(), "BTC", at)
	require.NoError(t, err)
	assert.Equal(t, 3, upstream.callCount())

	assert.Equal(t, Stats{MemoryHits: 2, Upstream: 3}, o.Stats())
}

func TestOracle_FailuresAreNotCached(t *testing.T) {
	upstream := &mockUpstream{err: domain.ErrPriceUnavailable}
	o, err := New(Config{Upstream: upstream, Logger: &mockLogger{}})
	require.NoError(t, err)

	_, err = o.USDPrice(context.Background(), "ETH", at)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)

	upstream.err = nil
	upstream.price = decimal.NewFromInt(3)
	price, err := o.USDPrice(context.Background(), "ETH", at)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3).Equal(price))
	assert.Equal(t, 2, upstream.callCount())
}

func TestOracle_PersistentTier(t *testing.T) {
	store := newMockStore()
	upstream := &mockUpstream{price: decimal.NewFromInt(250)}

	first, err := New(Config{Upstream: upstream, Store: store, Logger: &mockLogger{}})
	require.NoError(t, err)
	_, err = first.USDPrice(context.Background(), "ETH", at)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)

	// A fresh process has an empty memory tier but finds the stored price.
	second, err := New(Config{Upstream: upstream, Store: store, Logger: &mockLogger{}})
	require.NoError(t, err)
	price, err := second.USDPrice(context.Background(), "ETH", at)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(250).Equal(price))
	assert.Equal(t, 1, upstream.callCount())
	assert.Equal(t, int64(1), second.Stats().StoreHits)
}

func TestOracle_StoreErrorsFallBackToUpstream(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("database is locked")
	store.saveErr = errors.New("database is locked")
	logger := &mockLogger{}
	upstream := &mockUpstream{price: decimal.NewFromInt(7)}

	o, err := New(Config{Upstream: upstream, Store: store, Logger: logger})
	require.NoError(t, err)
	price, err := o.USDPrice(context.Background(), "ETH", at)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7).Equal(price))
	assert.Len(t, logger.warnMsgs, 2)
}

func TestOracle_ConcurrentLookupsShareOneUpstreamCall(t *testing.T) {
	upstream := &mockUpstream{price: decimal.NewFromInt(42), release: make(chan struct{})}
	o, err := New(Config{Upstream: upstream, Logger: &mockLogger{}})
	require.NoError(t, err)

	const n = 8
	var started, done sync.WaitGroup
	started.Add(n)
	done.Add(n)
	results := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			p, err := o.USDPrice(context.Background(), "ETH", at)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(upstream.release)
	done.Wait()

	assert.Equal(t, 1, upstream.callCount())
	for _, p := range results {
		assert.True(t, decimal.NewFromInt(42).Equal(p))
	}
}
