package provider

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/market"
)

const maxStreamBackoff = 30 * time.Second

// barEvent is one closed-bar push from the provider websocket feed.
type barEvent struct {
	Instrument string  `json:"instrument"`
	Period     string  `json:"period"`
	Timestamp  int64   `json:"ts"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	Final      bool    `json:"final"`
}

// BarStream subscribes to the provider's closed-bar websocket feed and
// appends finished bars into the ring set. It reconnects with doubling
// backoff and never returns until ctx is cancelled.
type BarStream struct {
	wsURL       string
	instruments []string
	periods     []market.Period
	rings       *market.RingSet
	logger      zerolog.Logger
}

// NewBarStream creates a stream feeding rings with closed bars for the given
// instruments and periods.
func NewBarStream(wsURL string, instruments []string, periods []market.Period, rings *market.RingSet, logger zerolog.Logger) *BarStream {
	return &BarStream{
		wsURL:       wsURL,
		instruments: instruments,
		periods:     periods,
		rings:       rings,
		logger:      logger.With().Str("component", "bar_stream").Logger(),
	}
}

// Run connects and consumes until ctx is done.
func (s *BarStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.subscribeURL(), nil)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to connect to bar stream")
			sleepWithContext(ctx, backoff)
			backoff = nextBackoff(backoff)
			continue
		}

		s.logger.Info().
			Int("instruments", len(s.instruments)).
			Int("periods", len(s.periods)).
			Msg("Connected to bar stream")
		backoff = time.Second

		if err := s.readLoop(ctx, conn); err != nil {
			s.logger.Error().Err(err).Msg("Bar stream read error")
		}
		_ = conn.Close()
	}
}

func (s *BarStream) subscribeURL() string {
	periods := make([]string, len(s.periods))
	for i, p := range s.periods {
		periods[i] = string(p)
	}
	q := url.Values{}
	q.Set("instruments", strings.Join(s.instruments, ","))
	q.Set("periods", strings.Join(periods, ","))
	return s.wsURL + "/ws/bars?" + q.Encode()
}

func (s *BarStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			var ev barEvent
			if err := json.Unmarshal(message, &ev); err != nil {
				s.logger.Error().Err(err).Msg("Failed to decode bar stream payload")
				continue
			}
			// Partial bars are repainted until the period closes; only
			// finished bars enter the rings.
			if !ev.Final {
				continue
			}
			period, err := market.ParsePeriod(ev.Period)
			if err != nil {
				s.logger.Warn().Str("period", ev.Period).Msg("Dropping bar with unknown period")
				continue
			}

			s.rings.Get(ev.Instrument, period).Append(market.Bar{
				Instrument: ev.Instrument,
				Period:     period,
				Timestamp:  time.UnixMilli(ev.Timestamp).UTC(),
				Open:       ev.Open,
				High:       ev.High,
				Low:        ev.Low,
				Close:      ev.Close,
				Volume:     ev.Volume,
			})
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(math.Min(float64(current)*2, float64(maxStreamBackoff)))
	return next
}
