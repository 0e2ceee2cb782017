package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/barstore"
	"github.com/hexleaf/equity-screener/internal/market"
)

// Ingester drains the live bar rings into Postgres so the bar store serves
// a continuous history across restarts. Each (instrument, period) key keeps
// a watermark; only bars newer than it are written.
type Ingester struct {
	rings    *market.RingSet
	store    *barstore.PGStore
	interval time.Duration
	logger   zerolog.Logger

	mu         sync.Mutex
	watermarks map[string]time.Time
}

// NewIngester creates an ingester flushing every interval; non-positive
// interval defaults to 30 seconds.
func NewIngester(rings *market.RingSet, store *barstore.PGStore, interval time.Duration, logger zerolog.Logger) *Ingester {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Ingester{
		rings:      rings,
		store:      store,
		interval:   interval,
		logger:     logger.With().Str("component", "bar_ingester").Logger(),
		watermarks: make(map[string]time.Time),
	}
}

// Run flushes until ctx is cancelled, with one final flush on the way out.
func (i *Ingester) Run(ctx context.Context) {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.flush(context.Background())
			return
		case <-ticker.C:
			i.flush(ctx)
		}
	}
}

func (i *Ingester) flush(ctx context.Context) {
	total := 0
	i.rings.Each(func(r *market.Ring) {
		key := r.Instrument() + "|" + string(r.Period())

		i.mu.Lock()
		mark := i.watermarks[key]
		i.mu.Unlock()

		var fresh []market.Bar
		for _, b := range r.Last(r.Size()) {
			if b.Timestamp.After(mark) {
				fresh = append(fresh, b)
			}
		}
		if len(fresh) == 0 {
			return
		}

		if err := i.store.Upsert(ctx, fresh); err != nil {
			i.logger.Error().
				Err(err).
				Str("instrument", r.Instrument()).
				Str("period", string(r.Period())).
				Msg("Bar ingest failed, will retry next flush")
			return
		}

		i.mu.Lock()
		i.watermarks[key] = fresh[len(fresh)-1].Timestamp
		i.mu.Unlock()
		total += len(fresh)
	})

	if total > 0 {
		i.logger.Debug().Int("bars", total).Msg("Ingested bars")
	}
}
