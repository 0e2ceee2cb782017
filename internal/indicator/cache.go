package indicator

import (
	"strings"
	"sync"
	"time"

	"github.com/hexleaf/equity-screener/internal/market"
)

// Cache memoizes computed results, content-addressed by
// (instrument, period, spec key). Templates sharing a spec hit the same
// entry. Invalidation is explicit on new-bar arrival; the cache also
// self-heals by extending when the series grew by exactly one bar.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result *Result
	tail   time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

func cacheKey(instrument string, period market.Period, spec Spec) string {
	return instrument + "|" + string(period) + "|" + spec.Key()
}

// Get returns the result of spec over series, reusing or extending a cached
// result where the series allows it.
func (c *Cache) Get(series *market.Series, spec Spec) (*Result, error) {
	key := cacheKey(series.Instrument(), series.Period(), spec)
	tail, hasTail := series.Last()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && hasTail {
		switch {
		case e.result.Len() == series.Len() && e.tail.Equal(tail.Timestamp):
			return e.result, nil
		case e.result.Len() == series.Len()-1 &&
			(series.Len() == 1 || e.tail.Equal(series.At(series.Len()-2).Timestamp)):
			r, err := Extend(e.result, series)
			if err == nil {
				c.put(key, r, tail.Timestamp)
				return r, nil
			}
			// fall through to a full recompute on any mismatch
		}
	}

	r, err := Compute(series, spec)
	if err != nil {
		return nil, err
	}
	if hasTail {
		c.put(key, r, tail.Timestamp)
	}
	return r, nil
}

func (c *Cache) put(key string, r *Result, tail time.Time) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{result: r, tail: tail}
	c.mu.Unlock()
}

// Invalidate drops every cached result for (instrument, period). Needed when
// history is rewritten in place; ordinary growth self-heals via Get.
func (c *Cache) Invalidate(instrument string, period market.Period) {
	prefix := instrument + "|" + string(period) + "|"
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len reports the number of cached results.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
