package market

import (
	"sync"
)

// Ring is a fixed-size circular buffer of bars for one (instrument, period).
// O(1) append, oldest bars overwritten when full. Safe for concurrent use;
// the write path is the provider stream, readers are evaluations.
type Ring struct {
	instrument string
	period     Period
	bars       []Bar
	head       int // next insertion point
	size       int
	mu         sync.RWMutex
}

// NewRing creates a ring holding at most capacity bars.
func NewRing(instrument string, period Period, capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		instrument: instrument,
		period:     period,
		bars:       make([]Bar, capacity),
	}
}

// Append adds one bar, overwriting the oldest when full. A bar not strictly
// newer than the current tail is dropped; the stream replays closed candles
// on reconnect and duplicates must not corrupt ordering.
func (r *Ring) Append(b Bar) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size > 0 {
		tail := r.bars[(r.head-1+len(r.bars))%len(r.bars)]
		if !b.Timestamp.After(tail.Timestamp) {
			return false
		}
	}
	r.bars[r.head] = b
	r.head = (r.head + 1) % len(r.bars)
	if r.size < len(r.bars) {
		r.size++
	}
	return true
}

// Instrument returns the ring's instrument id.
func (r *Ring) Instrument() string { return r.instrument }

// Period returns the ring's sampling period.
func (r *Ring) Period() Period { return r.period }

// Size returns the number of bars currently held.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Last returns up to count most recent bars in chronological order.
func (r *Ring) Last(count int) []Bar {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if count <= 0 || r.size == 0 {
		return nil
	}
	if count > r.size {
		count = r.size
	}
	out := make([]Bar, count)
	start := r.head - count
	if start < 0 {
		start += len(r.bars)
	}
	for i := 0; i < count; i++ {
		out[i] = r.bars[(start+i)%len(r.bars)]
	}
	return out
}

// Series snapshots the whole ring as an immutable Series.
func (r *Ring) Series() (*Series, error) {
	return NewSeries(r.instrument, r.period, r.Last(r.Size()))
}

// RingSet indexes rings by (instrument, period), creating them on demand.
type RingSet struct {
	capacity int
	rings    map[string]*Ring
	mu       sync.Mutex
}

// NewRingSet creates a RingSet whose rings hold capacity bars each.
func NewRingSet(capacity int) *RingSet {
	return &RingSet{capacity: capacity, rings: make(map[string]*Ring)}
}

func ringKey(instrument string, period Period) string {
	return instrument + "|" + string(period)
}

// Get returns the ring for (instrument, period), creating it if needed.
func (rs *RingSet) Get(instrument string, period Period) *Ring {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	key := ringKey(instrument, period)
	r, ok := rs.rings[key]
	if !ok {
		r = NewRing(instrument, period, rs.capacity)
		rs.rings[key] = r
	}
	return r
}

// Each calls fn for every ring currently in the set.
func (rs *RingSet) Each(fn func(*Ring)) {
	rs.mu.Lock()
	rings := make([]*Ring, 0, len(rs.rings))
	for _, r := range rs.rings {
		rings = append(rings, r)
	}
	rs.mu.Unlock()

	for _, r := range rings {
		fn(r)
	}
}
