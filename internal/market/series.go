package market

import (
	"fmt"
	"time"
)

// Series is an immutable, timestamp-ordered sequence of bars for one
// (instrument, period). Producers hand ownership to the caller; nothing
// mutates a Series after construction.
type Series struct {
	instrument string
	period     Period
	bars       []Bar
}

// NewSeries validates ordering and builds a Series. Timestamps must be
// strictly increasing; a duplicate or out-of-order bar is a data-quality
// error, not something to tolerate silently.
func NewSeries(instrument string, period Period, bars []Bar) (*Series, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("series %s/%s: bar %d timestamp %s not after %s",
				instrument, period, i, bars[i].Timestamp.Format(time.RFC3339),
				bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	owned := make([]Bar, len(bars))
	copy(owned, bars)
	return &Series{instrument: instrument, period: period, bars: owned}, nil
}

// Instrument returns the instrument id the series belongs to.
func (s *Series) Instrument() string { return s.instrument }

// Period returns the sampling period of the series.
func (s *Series) Period() Period { return s.period }

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.bars) }

// At returns the bar at index i.
func (s *Series) At(i int) Bar { return s.bars[i] }

// Last returns the most recent bar and whether one exists.
func (s *Series) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Column extracts one field across all bars, oldest first.
func (s *Series) Column(f Field) []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = b.Value(f)
	}
	return out
}

// WithBar returns a new Series extended by one trailing bar. The receiver is
// left untouched. The new bar must be strictly newer than the current tail.
func (s *Series) WithBar(b Bar) (*Series, error) {
	if last, ok := s.Last(); ok && !b.Timestamp.After(last.Timestamp) {
		return nil, fmt.Errorf("series %s/%s: new bar timestamp %s not after tail %s",
			s.instrument, s.period, b.Timestamp.Format(time.RFC3339),
			last.Timestamp.Format(time.RFC3339))
	}
	bars := make([]Bar, len(s.bars)+1)
	copy(bars, s.bars)
	bars[len(s.bars)] = b
	return &Series{instrument: s.instrument, period: s.period, bars: bars}, nil
}

// Truncate returns the prefix of the series whose bars are at or before t.
func (s *Series) Truncate(t time.Time) *Series {
	n := len(s.bars)
	for n > 0 && s.bars[n-1].Timestamp.After(t) {
		n--
	}
	return &Series{instrument: s.instrument, period: s.period, bars: s.bars[:n]}
}
