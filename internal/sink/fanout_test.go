package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hexleaf/equity-screener/internal/market"
	"github.com/hexleaf/equity-screener/internal/monitor"
)

type stubSink struct {
	calls int
	err   error
}

func (s *stubSink) Publish(ctx context.Context, alert monitor.Alert) error {
	s.calls++
	return s.err
}

func sampleAlert(transition monitor.Transition) monitor.Alert {
	return monitor.Alert{
		ID: uuid.New(),
		Entry: monitor.WatchEntry{
			ID:         uuid.New(),
			Instrument: "ACME",
			Strategy:   "macd_golden_cross",
			Version:    1,
			Period:     market.PeriodDaily,
		},
		Transition: transition,
		Timestamp:  time.Now().UTC(),
	}
}

func TestFanoutPublishesToAll(t *testing.T) {
	a, b := &stubSink{}, &stubSink{}
	f := NewFanout(a, b)

	require.NoError(t, f.Publish(context.Background(), sampleAlert(monitor.TransitionEntered)))
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
}

func TestFanoutAttemptsAllAndJoinsErrors(t *testing.T) {
	errBus := errors.New("bus down")
	errDB := errors.New("db down")
	failing := &stubSink{err: errBus}
	healthy := &stubSink{}
	alsoFailing := &stubSink{err: errDB}
	f := NewFanout(failing, healthy, alsoFailing)

	err := f.Publish(context.Background(), sampleAlert(monitor.TransitionExited))
	require.Error(t, err)
	require.ErrorIs(t, err, errBus)
	require.ErrorIs(t, err, errDB)

	// One failing sink never blocks delivery to the rest.
	require.Equal(t, 1, healthy.calls)
	require.Equal(t, 1, alsoFailing.calls)
}

func TestFanoutEmpty(t *testing.T) {
	f := NewFanout()
	require.NoError(t, f.Publish(context.Background(), sampleAlert(monitor.TransitionEntered)))
}
