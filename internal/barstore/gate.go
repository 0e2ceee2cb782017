package barstore

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hexleaf/equity-screener/internal/market"
)

// Gate bounds concurrent fetches against the provider's connection and rate
// budget. One gate is shared by every consumer of the adapter, so the
// selection executor and monitor loop back-pressure each other instead of
// independently saturating the provider.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates a gate admitting at most limit concurrent fetches.
func NewGate(limit int64) *Gate {
	if limit <= 0 {
		limit = 1
	}
	return &Gate{sem: semaphore.NewWeighted(limit)}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release returns a slot.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Gated wraps a Store so every fetch passes through the shared gate.
type Gated struct {
	inner Store
	gate  *Gate
}

// NewGated wraps inner with the gate.
func NewGated(inner Store, gate *Gate) *Gated {
	return &Gated{inner: inner, gate: gate}
}

func (g *Gated) Fetch(ctx context.Context, instrument string, period market.Period, from, to time.Time) (*market.Series, error) {
	if err := g.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer g.gate.Release()
	return g.inner.Fetch(ctx, instrument, period, from, to)
}
