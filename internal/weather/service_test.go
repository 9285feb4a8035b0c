package weather_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weatherapi-nodeserver/internal/observability"
	"github.com/i474232898/weatherapi-nodeserver/internal/store"
	"github.com/i474232898/weatherapi-nodeserver/internal/weather"
)

type fakeProvider struct {
	mu      sync.Mutex
	key     string
	calls   int
	queries []string
	reading weather.Reading
	err     error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fetch(_ context.Context, loc weather.Location) (weather.Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.queries = append(p.queries, loc.Query())
	if p.err != nil {
		return weather.Reading{}, p.err
	}
	return p.reading, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type harness struct {
	svc      *weather.Service
	clock    *clockwork.FakeClock
	store    *store.MemoryStore
	metrics  *observability.Metrics
	provider *fakeProvider
	keys     []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
		store:    store.NewMemoryStore(10, 0),
		metrics:  observability.NewMetricsForTesting(),
		provider: &fakeProvider{reading: weather.Reading{TemperatureF: 48.2, ConditionText: "Sunny", ConditionCode: 1000}},
	}
	factory := func(apiKey string) weather.Provider {
		h.keys = append(h.keys, apiKey)
		h.provider.key = apiKey
		return h.provider
	}
	h.svc = weather.NewService(h.store, factory, h.metrics, weather.Options{
		CacheTTL:        5 * time.Minute,
		RateLimitCalls:  100,
		RateLimitPeriod: time.Second,
		Clock:           h.clock,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func TestService_RefreshBeforeConfigure(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Refresh(context.Background(), true)
	assert.ErrorIs(t, err, weather.ErrNotConfigured)
	assert.False(t, h.svc.Configured())
}

func TestService_ConfigureValidates(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.svc.Configure(" ", "80301"), weather.ErrEmptyAPIKey)
	assert.ErrorIs(t, h.svc.Configure("key", "Boulder"), weather.ErrInvalidLocation)
	assert.ErrorIs(t, h.svc.Configure("key", ""), weather.ErrEmptyLocation)
	assert.False(t, h.svc.Configured())

	require.NoError(t, h.svc.Configure("key", "80301"))
	assert.True(t, h.svc.Configured())
	assert.Equal(t, weather.KindPostalCode, h.svc.Location().Kind)
}

func TestService_ShortPollUsesCacheWithinTTL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Configure("key", "Denver,CO"))

	r, err := h.svc.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 48.2, r.TemperatureF)
	assert.Equal(t, "Denver,CO", r.Location)
	assert.Equal(t, h.clock.Now(), r.FetchedAt)
	assert.Equal(t, 1, h.provider.Calls())

	h.clock.Advance(4 * time.Minute)
	_, err = h.svc.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, h.provider.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.FetchTotal.WithLabelValues("cached")))

	h.clock.Advance(2 * time.Minute)
	_, err = h.svc.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, h.provider.Calls())
}

func TestService_LongPollAlwaysFetches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Configure("key", "Denver,CO"))

	for i := 0; i < 3; i++ {
		_, err := h.svc.Refresh(ctx, true)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.provider.Calls())
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.FetchTotal.WithLabelValues("success")))
}

func TestService_RefreshErrorKeepsLastReading(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Configure("key", "Denver,CO"))

	_, err := h.svc.Refresh(ctx, true)
	require.NoError(t, err)

	h.provider.err = errors.New("connection refused")
	_, err = h.svc.Refresh(ctx, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Denver,CO")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.FetchTotal.WithLabelValues("error")))

	last, err := h.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 48.2, last.TemperatureF)
}

func TestService_ChangingLocationDropsCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Configure("key", "Denver,CO"))
	_, err := h.svc.Refresh(ctx, false)
	require.NoError(t, err)

	require.NoError(t, h.svc.Configure("key", "80301"))
	_, err = h.svc.Refresh(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 2, h.provider.Calls())
	assert.Equal(t, []string{"Denver,CO", "80301"}, h.provider.queries)
}

func TestService_ProviderRebuiltOnlyWhenKeyChanges(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Configure("key-1", "Denver,CO"))
	require.NoError(t, h.svc.Configure("key-1", "80301"))
	require.NoError(t, h.svc.Configure("key-2", "80301"))

	assert.Equal(t, []string{"key-1", "key-2"}, h.keys)
}

func TestService_RestoreSeedsCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.svc.Configure("key", "Denver,CO"))

	stored := weather.Reading{TemperatureF: 33, FetchedAt: h.clock.Now().Add(-time.Minute)}
	require.NoError(t, h.store.SaveReading(ctx, h.svc.Location(), stored))
	require.NoError(t, h.svc.Restore(ctx))

	r, err := h.svc.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, float64(33), r.TemperatureF)
	assert.Equal(t, 0, h.provider.Calls())
}

func TestService_RestoreWithoutDataIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Configure("key", "Denver,CO"))
	require.NoError(t, h.svc.Restore(context.Background()))

	_, err := h.svc.Latest(context.Background())
	assert.ErrorIs(t, err, weather.ErrNoData)
}

func TestService_HistoryReadsStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.History(ctx, time.Time{}, h.clock.Now())
	assert.ErrorIs(t, err, weather.ErrNoData)

	require.NoError(t, h.svc.Configure("key", "Denver,CO"))
	_, err = h.svc.Refresh(ctx, true)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	_, err = h.svc.Refresh(ctx, true)
	require.NoError(t, err)

	got, err := h.svc.History(ctx, h.clock.Now().Add(-time.Hour), h.clock.Now())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestService_RateLimitWaitHonoursContext(t *testing.T) {
	h := newHarness(t)
	svc := weather.NewService(h.store, func(string) weather.Provider { return h.provider }, h.metrics, weather.Options{
		RateLimitCalls:  1,
		RateLimitPeriod: time.Hour,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, svc.Configure("key", "80301"))

	_, err := svc.Refresh(context.Background(), true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Refresh(ctx, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RateLimitWaits))
	assert.Equal(t, 1, h.provider.Calls())
}
