package barstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hexleaf/equity-screener/internal/market"
)

// DefaultLookbackBars is how much history a cold cache entry fetches. Large
// enough for the widest indicator window plus its warm-up region.
const DefaultLookbackBars = 600

// SeriesCache keeps one bar series per (instrument, period) and fills gaps
// incrementally: a cold key fetches the lookback window, a warm key fetches
// only bars newer than its tail. Each key has its own lock so the fetch for
// one key runs to completion before any reader of that key proceeds, while
// different keys fetch in parallel.
type SeriesCache struct {
	store    Store
	lookback int

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	mu        sync.Mutex
	series    *market.Series
	fetchedTo time.Time
}

// NewSeriesCache creates a cache over store. Non-positive lookback falls
// back to DefaultLookbackBars.
func NewSeriesCache(store Store, lookback int) *SeriesCache {
	if lookback <= 0 {
		lookback = DefaultLookbackBars
	}
	return &SeriesCache{
		store:    store,
		lookback: lookback,
		entries:  make(map[string]*cacheEntry),
	}
}

func (c *SeriesCache) entry(instrument string, period market.Period) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := instrument + "|" + string(period)
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	return e
}

// Get returns the series for (instrument, period) covering bars up to asOf.
// Already-covered requests are served from memory without touching the
// store; otherwise the missing suffix is fetched and merged. The returned
// series is immutable and safe to share across evaluations.
func (c *SeriesCache) Get(ctx context.Context, instrument string, period market.Period, asOf time.Time) (*market.Series, error) {
	e := c.entry(instrument, period)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.series == nil || e.fetchedTo.Before(asOf) {
		if err := c.fill(ctx, e, instrument, period, asOf); err != nil {
			return nil, err
		}
	}

	out := e.series.Truncate(asOf)
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: no bars for %s/%s at or before %s",
			ErrUnavailable, instrument, period, asOf.Format(time.RFC3339))
	}
	return out, nil
}

// fill fetches the uncovered range and merges it into the entry. Caller
// holds the entry lock.
func (c *SeriesCache) fill(ctx context.Context, e *cacheEntry, instrument string, period market.Period, asOf time.Time) error {
	from := asOf.Add(-time.Duration(c.lookback) * period.Duration())
	if e.series != nil {
		last, _ := e.series.Last()
		from = last.Timestamp.Add(time.Nanosecond)
	}

	fetched, err := c.store.Fetch(ctx, instrument, period, from, asOf)
	if err != nil {
		// A warm entry stays usable when only the newest bars are missing.
		if e.series != nil && errors.Is(err, ErrUnavailable) {
			e.fetchedTo = asOf
			return nil
		}
		return err
	}

	if e.series == nil {
		e.series = fetched
	} else {
		merged := e.series
		for i := 0; i < fetched.Len(); i++ {
			merged, err = merged.WithBar(fetched.At(i))
			if err != nil {
				return fmt.Errorf("merge fetched bars for %s/%s: %w", instrument, period, err)
			}
		}
		e.series = merged
	}
	e.fetchedTo = asOf
	return nil
}

// Invalidate drops the cached series for one key, forcing a refetch.
func (c *SeriesCache) Invalidate(instrument string, period market.Period) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, instrument+"|"+string(period))
}
