package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hexleaf/equity-screener/internal/barstore"
	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/market"
	"github.com/hexleaf/equity-screener/internal/rule"
)

// seriesStore serves daily bars from a mutable close list anchored in the
// recent past, so tests can append bars between cycles the way a live feed
// would. Respects the [from, to] window, which exercises the cache's warm
// incremental fills.
type seriesStore struct {
	mu     sync.Mutex
	origin time.Time
	closes map[string][]float64
	err    error
}

func newSeriesStore() *seriesStore {
	return &seriesStore{
		origin: time.Now().UTC().AddDate(0, 0, -60).Truncate(24 * time.Hour),
		closes: make(map[string][]float64),
	}
}

func (s *seriesStore) set(instrument string, closes ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes[instrument] = closes
}

func (s *seriesStore) append(instrument string, closes ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes[instrument] = append(s.closes[instrument], closes...)
}

func (s *seriesStore) Fetch(ctx context.Context, instrument string, period market.Period, from, to time.Time) (*market.Series, error) {
	s.mu.Lock()
	closes := append([]float64(nil), s.closes[instrument]...)
	err := s.err
	origin := s.origin
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	var bars []market.Bar
	for i, c := range closes {
		ts := origin.AddDate(0, 0, i)
		if ts.Before(from) || ts.After(to) {
			continue
		}
		bars = append(bars, market.Bar{
			Instrument: instrument,
			Period:     period,
			Timestamp:  ts,
			Open:       c,
			High:       c + 1,
			Low:        c - 1,
			Close:      c,
			Volume:     1000,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s: %w", instrument, barstore.ErrUnavailable)
	}
	return market.NewSeries(instrument, period, bars)
}

type stubTemplates struct {
	template *rule.Template
	err      error
}

func (s *stubTemplates) Get(ctx context.Context, id string, version int) (*rule.Template, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.template, nil
}

type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
	fail   bool
}

func (s *captureSink) Publish(ctx context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *captureSink) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *captureSink) transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transition
	for _, a := range s.alerts {
		out = append(out, a.Transition)
	}
	return out
}

func closeAboveMA5() *rule.Template {
	ma5 := indicator.MA(5)
	return &rule.Template{
		ID:       "close_above_ma5",
		Name:     "Close Above MA5",
		Version:  1,
		Category: rule.CategoryTrend,
		Periods:  []market.Period{market.PeriodDaily},
		Tree: rule.Node{Cond: &rule.Condition{
			Left:  rule.Operand{Price: market.FieldClose},
			Op:    rule.OpGT,
			Right: &rule.Operand{Indicator: &ma5},
		}},
	}
}

func newTestLoop(store barstore.Store, watchlist Watchlist, sink AlertSink) *Loop {
	bars := barstore.NewSeriesCache(store, 100)
	return NewLoop(Config{
		Interval:      time.Minute,
		EntryTimeout:  5 * time.Second,
		CycleDeadline: 10 * time.Second,
		Workers:       2,
	}, watchlist, &stubTemplates{template: closeAboveMA5()}, bars, indicator.NewCache(), sink, zerolog.Nop())
}

func addEntry(t *testing.T, w Watchlist, instrument string) WatchEntry {
	t.Helper()
	e := WatchEntry{
		ID:         uuid.New(),
		Instrument: instrument,
		Strategy:   "close_above_ma5",
		Version:    1,
		Period:     market.PeriodDaily,
	}
	require.NoError(t, w.Add(context.Background(), e))
	return e
}

func TestCycleEmitsOneAlertPerTransition(t *testing.T) {
	store := newSeriesStore()
	store.set("ACME", 100, 101, 102, 103, 104, 105, 106, 107, 108, 120)

	watchlist := NewMemoryWatchlist()
	entry := addEntry(t, watchlist, "ACME")
	sink := &captureSink{}
	l := newTestLoop(store, watchlist, sink)
	ctx := context.Background()

	// Rising closes: the entry enters its match.
	require.NoError(t, l.cycle(ctx))
	require.Equal(t, []Transition{TransitionEntered}, sink.transitions())

	entries, _ := watchlist.List(ctx)
	require.True(t, entries[0].Matched)

	// Flat bars drag the close back to its mean: exit.
	store.append("ACME", 90, 90, 90, 90, 90)
	require.NoError(t, l.cycle(ctx))
	require.Equal(t, []Transition{TransitionEntered, TransitionExited}, sink.transitions())

	// A spike re-enters the match.
	store.append("ACME", 130)
	require.NoError(t, l.cycle(ctx))
	require.Equal(t, []Transition{TransitionEntered, TransitionExited, TransitionEntered}, sink.transitions())

	for _, a := range sink.alerts {
		require.Equal(t, entry.ID, a.Entry.ID)
	}
}

func TestCycleNoChangeEmitsNothing(t *testing.T) {
	store := newSeriesStore()
	store.set("ACME", 100, 101, 102, 103, 104, 105, 106, 107, 108, 120)

	watchlist := NewMemoryWatchlist()
	addEntry(t, watchlist, "ACME")
	sink := &captureSink{}
	l := newTestLoop(store, watchlist, sink)
	ctx := context.Background()

	require.NoError(t, l.cycle(ctx))
	require.Len(t, sink.alerts, 1)

	// Same data, same outcome: no second alert.
	require.NoError(t, l.cycle(ctx))
	require.NoError(t, l.cycle(ctx))
	require.Len(t, sink.alerts, 1)
}

func TestCycleFetchFailureDefersEntry(t *testing.T) {
	store := newSeriesStore()
	store.err = barstore.ErrProvider

	watchlist := NewMemoryWatchlist()
	e := addEntry(t, watchlist, "ACME")
	e.Matched = true
	require.NoError(t, watchlist.Add(context.Background(), e))

	sink := &captureSink{}
	l := newTestLoop(store, watchlist, sink)

	require.NoError(t, l.cycle(context.Background()))
	require.Empty(t, sink.alerts, "a deferred entry must not transition")

	entries, _ := watchlist.List(context.Background())
	require.True(t, entries[0].Matched, "state unchanged on fetch failure")
}

func TestCycleTemplateLoadFailureDefers(t *testing.T) {
	store := newSeriesStore()
	store.set("ACME", 100, 101, 102, 103, 104, 105, 106, 107, 108, 120)

	watchlist := NewMemoryWatchlist()
	addEntry(t, watchlist, "ACME")
	sink := &captureSink{}

	bars := barstore.NewSeriesCache(store, 100)
	l := NewLoop(Config{Interval: time.Minute}, watchlist,
		&stubTemplates{err: errors.New("store down")},
		bars, indicator.NewCache(), sink, zerolog.Nop())

	require.NoError(t, l.cycle(context.Background()))
	require.Empty(t, sink.alerts)
}

func TestCyclePendingAlertRetry(t *testing.T) {
	store := newSeriesStore()
	store.set("ACME", 100, 101, 102, 103, 104, 105, 106, 107, 108, 120)

	watchlist := NewMemoryWatchlist()
	addEntry(t, watchlist, "ACME")
	sink := &captureSink{fail: true}
	l := newTestLoop(store, watchlist, sink)
	ctx := context.Background()

	// The transition is recorded but delivery fails and the alert parks.
	require.NoError(t, l.cycle(ctx))
	require.Empty(t, sink.alerts)
	entries, _ := watchlist.List(ctx)
	require.True(t, entries[0].Matched)

	// Next transition flushes the parked alert first, preserving order.
	sink.setFail(false)
	store.append("ACME", 90, 90, 90, 90, 90)
	require.NoError(t, l.cycle(ctx))
	require.Equal(t, []Transition{TransitionEntered, TransitionExited}, sink.transitions())
}

func TestCycleEmptyWatchlist(t *testing.T) {
	store := newSeriesStore()
	sink := &captureSink{}
	l := newTestLoop(store, NewMemoryWatchlist(), sink)

	require.NoError(t, l.cycle(context.Background()))
	require.Empty(t, sink.alerts)
	require.Equal(t, StateIdle, l.State())
}

// stalledTemplates blocks every load until its context expires, the way a
// hung template store would.
type stalledTemplates struct{ calls int32 }

func (s *stalledTemplates) Get(ctx context.Context, id string, version int) (*rule.Template, error) {
	atomic.AddInt32(&s.calls, 1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunSurvivesBlownCycleDeadline(t *testing.T) {
	store := newSeriesStore()
	store.set("ACME", 100, 101, 102, 103, 104, 105, 106, 107, 108, 120)

	watchlist := NewMemoryWatchlist()
	addEntry(t, watchlist, "ACME")
	sink := &captureSink{}
	templates := &stalledTemplates{}

	bars := barstore.NewSeriesCache(store, 100)
	l := NewLoop(Config{
		Interval:      10 * time.Millisecond,
		EntryTimeout:  20 * time.Millisecond,
		CycleDeadline: 20 * time.Millisecond,
		Workers:       1,
	}, watchlist, templates, bars, indicator.NewCache(), sink, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// A second template load proves the loop outlived the first blown
	// deadline instead of treating it as fatal.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&templates.calls) >= 2
	}, 2*time.Second, 5*time.Millisecond, "loop stopped after a blown cycle deadline")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	require.Empty(t, sink.alerts, "stalled template loads defer entries without alerts")
}

type brokenWatchlist struct{ Watchlist }

func (brokenWatchlist) List(ctx context.Context) ([]WatchEntry, error) {
	return nil, errors.New("connection refused")
}

func TestCycleWatchlistReadFailureIsFatal(t *testing.T) {
	store := newSeriesStore()
	l := newTestLoop(store, brokenWatchlist{}, &captureSink{})

	err := l.cycle(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "read watchlist")
}

func TestMemoryWatchlist(t *testing.T) {
	w := NewMemoryWatchlist()
	ctx := context.Background()

	a := addEntry(t, w, "AAA")
	b := addEntry(t, w, "BBB")

	entries, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "AAA", entries[0].Instrument, "list preserves insertion order")

	now := time.Now().UTC()
	require.NoError(t, w.SetMatched(ctx, b.ID, true, now))
	entries, _ = w.List(ctx)
	require.True(t, entries[1].Matched)

	require.NoError(t, w.Remove(ctx, a.ID))
	require.ErrorIs(t, w.Remove(ctx, a.ID), ErrEntryNotFound)
	require.ErrorIs(t, w.SetMatched(ctx, a.ID, true, now), ErrEntryNotFound)
}
