package market

import (
	"fmt"
	"time"
)

// Period is the sampling granularity of a bar series.
type Period string

const (
	PeriodDaily Period = "1d"
	Period60m   Period = "60m"
	Period30m   Period = "30m"
	Period15m   Period = "15m"
	Period5m    Period = "5m"
)

// Periods lists every supported period, coarsest first.
var Periods = []Period{PeriodDaily, Period60m, Period30m, Period15m, Period5m}

// ParsePeriod converts a string into a Period.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodDaily, Period60m, Period30m, Period15m, Period5m:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Duration returns the nominal wall-clock span of one bar.
// Daily bars use 24h; intraday gaps (market close) are the caller's concern.
func (p Period) Duration() time.Duration {
	switch p {
	case Period5m:
		return 5 * time.Minute
	case Period15m:
		return 15 * time.Minute
	case Period30m:
		return 30 * time.Minute
	case Period60m:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Bar is a single OHLCV record for one instrument at one period.
type Bar struct {
	Instrument string    `json:"instrument"`
	Period     Period    `json:"period"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// Field selects one numeric component of a bar.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// Value returns the named component of the bar.
func (b Bar) Value(f Field) float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldVolume:
		return b.Volume
	default:
		return b.Close
	}
}
