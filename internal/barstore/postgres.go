package barstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/market"
)

// PGStore serves bar history out of the bars hypertable. It is the primary
// adapter for backtest-style selection runs where history is already
// ingested; live gap-filling goes through the provider client instead.
type PGStore struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewPGStore creates a Postgres-backed bar store.
func NewPGStore(db *pgxpool.Pool, logger zerolog.Logger) *PGStore {
	return &PGStore{
		db:     db,
		logger: logger.With().Str("component", "bar_store").Logger(),
	}
}

// Fetch reads bars for the range, both bounds inclusive. An instrument or
// period with no rows at all maps to ErrUnavailable; query failures map to
// ErrProvider so callers retry.
func (s *PGStore) Fetch(ctx context.Context, instrument string, period market.Period, from, to time.Time) (*market.Series, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE instrument = $1 AND period = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC
	`, instrument, string(period), from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: query bars %s/%s: %v", ErrProvider, instrument, period, err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		b := market.Bar{Instrument: instrument, Period: period}
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("%w: scan bar: %v", ErrProvider, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read bars %s/%s: %v", ErrProvider, instrument, period, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s/%s in [%s, %s]",
			ErrUnavailable, instrument, period, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return market.NewSeries(instrument, period, bars)
}

// Upsert writes a batch of bars, overwriting rows with the same key. Used by
// the ingest path and the migrate seeder.
func (s *PGStore) Upsert(ctx context.Context, bars []market.Bar) error {
	for _, b := range bars {
		_, err := s.db.Exec(ctx, `
			INSERT INTO bars (instrument, period, ts, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (instrument, period, ts) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume
		`, b.Instrument, string(b.Period), b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("upsert bar %s/%s@%s: %w", b.Instrument, b.Period, b.Timestamp.Format(time.RFC3339), err)
		}
	}
	return nil
}
