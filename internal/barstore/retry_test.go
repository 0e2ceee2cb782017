package barstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hexleaf/equity-screener/internal/market"
)

var testOrigin = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// dailyBars builds one daily bar per day from testOrigin, keeping those
// inside [from, to].
func dailyBars(instrument string, days int, from, to time.Time) []market.Bar {
	var bars []market.Bar
	for i := 0; i < days; i++ {
		ts := testOrigin.AddDate(0, 0, i)
		if ts.Before(from) || ts.After(to) {
			continue
		}
		c := 100 + float64(i)
		bars = append(bars, market.Bar{
			Instrument: instrument,
			Period:     market.PeriodDaily,
			Timestamp:  ts,
			Open:       c - 0.5,
			High:       c + 1,
			Low:        c - 1,
			Close:      c,
			Volume:     1000,
		})
	}
	return bars
}

// scriptedStore returns the queued error per call, then serves bars.
type scriptedStore struct {
	errs  []error
	days  int
	calls int
	froms []time.Time
}

func (s *scriptedStore) Fetch(ctx context.Context, instrument string, period market.Period, from, to time.Time) (*market.Series, error) {
	s.calls++
	s.froms = append(s.froms, from)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	bars := dailyBars(instrument, s.days, from, to)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", ErrUnavailable, instrument)
	}
	return market.NewSeries(instrument, period, bars)
}

func TestRetrierFetch(t *testing.T) {
	ctx := context.Background()
	to := testOrigin.AddDate(0, 0, 9)

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{
			name:      "first attempt succeeds",
			wantCalls: 1,
		},
		{
			name:      "transient failures then success",
			errs:      []error{ErrProvider, ErrProvider, nil},
			wantCalls: 3,
		},
		{
			name:      "rate limited then success",
			errs:      []error{ErrRateLimited, nil},
			wantCalls: 2,
		},
		{
			name:      "unavailable is permanent",
			errs:      []error{ErrUnavailable},
			wantCalls: 1,
			wantErr:   ErrUnavailable,
		},
		{
			name:      "attempts exhausted",
			errs:      []error{ErrProvider, ErrProvider, ErrProvider},
			wantCalls: 3,
			wantErr:   ErrProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &scriptedStore{errs: tt.errs, days: 10}
			r := NewRetrier(store, 3, time.Millisecond, zerolog.Nop())

			series, err := r.Fetch(ctx, "ACME", market.PeriodDaily, testOrigin, to)
			require.Equal(t, tt.wantCalls, store.calls)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, series)
				return
			}
			require.NoError(t, err)
			require.Equal(t, 10, series.Len())
		})
	}
}

func TestRetrierCancelledContext(t *testing.T) {
	store := &scriptedStore{errs: []error{ErrProvider, ErrProvider, ErrProvider}, days: 10}
	r := NewRetrier(store, 3, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Fetch(ctx, "ACME", market.PeriodDaily, testOrigin, testOrigin.AddDate(0, 0, 9))
	require.Error(t, err)
	require.Equal(t, 1, store.calls, "no retries once the context is cancelled")
}

func TestRetrierReturnsLastError(t *testing.T) {
	wrapped := fmt.Errorf("fetch klines: %w", ErrProvider)
	store := &scriptedStore{errs: []error{ErrProvider, wrapped}, days: 10}
	r := NewRetrier(store, 2, time.Millisecond, zerolog.Nop())

	_, err := r.Fetch(context.Background(), "ACME", market.PeriodDaily, testOrigin, testOrigin.AddDate(0, 0, 9))
	require.True(t, errors.Is(err, ErrProvider))
	require.Contains(t, err.Error(), "fetch klines")
}
