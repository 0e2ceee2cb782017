package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestCooldownLocalFallback(t *testing.T) {
	c := NewCooldown(nil, time.Minute, zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC()
	entry := WatchEntry{ID: uuid.New()}

	entered := Alert{ID: uuid.New(), Entry: entry, Transition: TransitionEntered, Timestamp: now}
	require.True(t, c.Allow(ctx, entered))

	// Same entry and direction inside the window is suppressed.
	repeat := entered
	repeat.ID = uuid.New()
	repeat.Timestamp = now.Add(10 * time.Second)
	require.False(t, c.Allow(ctx, repeat))

	// The opposite direction has its own window.
	exited := Alert{ID: uuid.New(), Entry: entry, Transition: TransitionExited, Timestamp: now}
	require.True(t, c.Allow(ctx, exited))

	// Another entry is independent.
	other := Alert{ID: uuid.New(), Entry: WatchEntry{ID: uuid.New()}, Transition: TransitionEntered, Timestamp: now}
	require.True(t, c.Allow(ctx, other))

	// After the window expires the alert may notify again.
	late := entered
	late.ID = uuid.New()
	late.Timestamp = now.Add(2 * time.Minute)
	require.True(t, c.Allow(ctx, late))
}
