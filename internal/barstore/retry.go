package barstore

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/market"
)

const (
	// DefaultMaxAttempts bounds retries of transient fetch failures.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the first retry delay; it doubles per attempt.
	DefaultBackoff = 500 * time.Millisecond
	// rateLimitFactor stretches the backoff when the provider says
	// rate-limited rather than merely failing.
	rateLimitFactor = 4
)

// Retrier wraps a Store with bounded exponential backoff. ErrUnavailable is
// permanent and returned immediately; ErrProvider retries on the base
// schedule; ErrRateLimited waits rateLimitFactor times longer before each
// retry. The wrapped error from the last attempt is returned unmodified so
// errors.Is classification survives.
type Retrier struct {
	inner       Store
	maxAttempts int
	backoff     time.Duration
	logger      zerolog.Logger
}

// NewRetrier wraps inner. Non-positive maxAttempts or backoff fall back to
// the defaults.
func NewRetrier(inner Store, maxAttempts int, backoff time.Duration, logger zerolog.Logger) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Retrier{
		inner:       inner,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger.With().Str("component", "bar_store_retry").Logger(),
	}
}

func (r *Retrier) Fetch(ctx context.Context, instrument string, period market.Period, from, to time.Time) (*market.Series, error) {
	delay := r.backoff
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		series, err := r.inner.Fetch(ctx, instrument, period, from, to)
		if err == nil {
			return series, nil
		}
		if errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt == r.maxAttempts {
			break
		}

		wait := delay
		if errors.Is(err, ErrRateLimited) {
			wait = delay * rateLimitFactor
		}
		r.logger.Warn().
			Err(err).
			Str("instrument", instrument).
			Str("period", string(period)).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Bar fetch failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return nil, lastErr
}
