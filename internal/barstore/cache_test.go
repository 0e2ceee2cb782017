package barstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hexleaf/equity-screener/internal/market"
)

func day(n int) time.Time { return testOrigin.AddDate(0, 0, n) }

func TestSeriesCacheColdThenWarm(t *testing.T) {
	store := &scriptedStore{days: 30}
	cache := NewSeriesCache(store, 100)
	ctx := context.Background()

	series, err := cache.Get(ctx, "ACME", market.PeriodDaily, day(9))
	require.NoError(t, err)
	require.Equal(t, 10, series.Len())
	require.Equal(t, 1, store.calls)

	// Covered request served from memory.
	again, err := cache.Get(ctx, "ACME", market.PeriodDaily, day(9))
	require.NoError(t, err)
	require.Equal(t, 10, again.Len())
	require.Equal(t, 1, store.calls)
}

func TestSeriesCacheIncrementalFill(t *testing.T) {
	store := &scriptedStore{days: 30}
	cache := NewSeriesCache(store, 100)
	ctx := context.Background()

	_, err := cache.Get(ctx, "ACME", market.PeriodDaily, day(9))
	require.NoError(t, err)

	series, err := cache.Get(ctx, "ACME", market.PeriodDaily, day(12))
	require.NoError(t, err)
	require.Equal(t, 13, series.Len())
	require.Equal(t, 2, store.calls)

	// The warm fill asks only for bars newer than the cached tail.
	require.True(t, store.froms[1].After(day(9)))
	last, ok := series.Last()
	require.True(t, ok)
	require.True(t, last.Timestamp.Equal(day(12)))
}

func TestSeriesCacheTruncatesToAsOf(t *testing.T) {
	store := &scriptedStore{days: 30}
	cache := NewSeriesCache(store, 100)
	ctx := context.Background()

	// Fill deep, then ask for an earlier cutoff.
	_, err := cache.Get(ctx, "ACME", market.PeriodDaily, day(20))
	require.NoError(t, err)

	series, err := cache.Get(ctx, "ACME", market.PeriodDaily, day(5))
	require.NoError(t, err)
	require.Equal(t, 6, series.Len())
	require.Equal(t, 1, store.calls)
}

func TestSeriesCacheColdUnavailable(t *testing.T) {
	store := &scriptedStore{days: 0}
	cache := NewSeriesCache(store, 100)

	_, err := cache.Get(context.Background(), "ACME", market.PeriodDaily, day(9))
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSeriesCacheWarmToleratesNoNewBars(t *testing.T) {
	store := &scriptedStore{days: 10}
	cache := NewSeriesCache(store, 100)
	ctx := context.Background()

	_, err := cache.Get(ctx, "ACME", market.PeriodDaily, day(9))
	require.NoError(t, err)

	// The provider has nothing past day 9 yet; the cached series stays
	// usable and no error surfaces.
	series, err := cache.Get(ctx, "ACME", market.PeriodDaily, day(11))
	require.NoError(t, err)
	require.Equal(t, 10, series.Len())
	require.Equal(t, 2, store.calls)

	// The miss is remembered; the next covered request skips the store.
	_, err = cache.Get(ctx, "ACME", market.PeriodDaily, day(11))
	require.NoError(t, err)
	require.Equal(t, 2, store.calls)
}

func TestSeriesCacheInvalidate(t *testing.T) {
	store := &scriptedStore{days: 30}
	cache := NewSeriesCache(store, 100)
	ctx := context.Background()

	_, err := cache.Get(ctx, "ACME", market.PeriodDaily, day(9))
	require.NoError(t, err)
	require.Equal(t, 1, store.calls)

	cache.Invalidate("ACME", market.PeriodDaily)

	_, err = cache.Get(ctx, "ACME", market.PeriodDaily, day(9))
	require.NoError(t, err)
	require.Equal(t, 2, store.calls)
}
