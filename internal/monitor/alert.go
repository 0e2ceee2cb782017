package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Transition is the direction of a match-state change.
type Transition string

const (
	TransitionEntered Transition = "entered_match"
	TransitionExited  Transition = "exited_match"
)

// Alert records one match-state transition for a watch entry. Alerts exist
// only for transitions; a cycle that re-confirms the same state emits
// nothing.
type Alert struct {
	ID         uuid.UUID  `json:"id"`
	Entry      WatchEntry `json:"entry"`
	Transition Transition `json:"transition"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AlertSink receives alerts the loop emits. Implementations live outside
// the core (message bus, webhook, database); the loop treats them as
// opaque.
type AlertSink interface {
	Publish(ctx context.Context, alert Alert) error
}

// DefaultCooldown suppresses repeat notifications for a flapping entry.
const DefaultCooldown = 5 * time.Minute

// Cooldown rate-limits alerts per (entry, transition). State lives in Redis
// so restarts and multiple notifier replicas share it; without Redis an
// in-process map serves the same role for a single instance.
type Cooldown struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	mu    sync.Mutex
	local map[string]time.Time
}

// NewCooldown creates a cooldown guard. rdb may be nil; non-positive ttl
// falls back to DefaultCooldown.
func NewCooldown(rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cooldown {
	if ttl <= 0 {
		ttl = DefaultCooldown
	}
	return &Cooldown{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With().Str("component", "alert_cooldown").Logger(),
		local:  make(map[string]time.Time),
	}
}

// Allow reports whether the alert may notify, and marks it as sent when it
// may. A Redis failure falls back to the local map rather than suppressing
// or duplicating unboundedly.
func (c *Cooldown) Allow(ctx context.Context, alert Alert) bool {
	key := fmt.Sprintf("alert_cooldown:%s:%s", alert.Entry.ID, alert.Transition)

	if c.rdb != nil {
		ok, err := c.rdb.SetNX(ctx, key, alert.Timestamp.Format(time.RFC3339), c.ttl).Result()
		if err == nil {
			return ok
		}
		c.logger.Warn().Err(err).Msg("Redis cooldown check failed, using local state")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if until, exists := c.local[key]; exists && alert.Timestamp.Before(until) {
		return false
	}
	c.local[key] = alert.Timestamp.Add(c.ttl)
	return true
}
