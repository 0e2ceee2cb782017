package barstore

import (
	"context"
	"errors"
	"time"

	"github.com/hexleaf/equity-screener/internal/market"
)

// Failure classes the adapter reports. Callers branch on these with
// errors.Is: ErrUnavailable is permanent for the request, ErrProvider is
// transient and worth a retry, ErrRateLimited means back off before retrying
// so the shared gate can adapt.
var (
	ErrUnavailable = errors.New("data unavailable")
	ErrProvider    = errors.New("provider error")
	ErrRateLimited = errors.New("rate limited")
)

// Store fetches bar history for one (instrument, period) over a time range.
// Implementations return bars ordered by timestamp ascending, inclusive of
// both bounds.
type Store interface {
	Fetch(ctx context.Context, instrument string, period market.Period, from, to time.Time) (*market.Series, error)
}
