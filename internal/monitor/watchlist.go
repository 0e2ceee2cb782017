package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hexleaf/equity-screener/internal/market"
)

// ErrEntryNotFound is returned when a watch entry id does not exist.
var ErrEntryNotFound = errors.New("watch entry not found")

// WatchEntry is one (instrument, strategy, period) tuple under continuous
// monitoring, plus the last match state the loop reconciled. The loop is the
// sole writer of Matched.
type WatchEntry struct {
	ID         uuid.UUID     `json:"id"`
	Instrument string        `json:"instrument"`
	Strategy   string        `json:"strategy"`
	Version    int           `json:"version"`
	Period     market.Period `json:"period"`
	Matched    bool          `json:"matched"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Watchlist persists watch entries. Reads must reflect writes made before
// the next monitor cycle begins; no stronger freshness is required.
type Watchlist interface {
	List(ctx context.Context) ([]WatchEntry, error)
	Add(ctx context.Context, e WatchEntry) error
	Remove(ctx context.Context, id uuid.UUID) error
	SetMatched(ctx context.Context, id uuid.UUID, matched bool, at time.Time) error
}

// PGWatchlist stores watch entries in Postgres.
type PGWatchlist struct {
	db *pgxpool.Pool
}

// NewPGWatchlist creates a Postgres-backed watchlist.
func NewPGWatchlist(db *pgxpool.Pool) *PGWatchlist {
	return &PGWatchlist{db: db}
}

// List returns every entry ordered by creation time, which fixes the
// loop's iteration and therefore alert emission order within a cycle.
func (w *PGWatchlist) List(ctx context.Context) ([]WatchEntry, error) {
	rows, err := w.db.Query(ctx, `
		SELECT id, instrument, strategy, version, period, matched, updated_at
		FROM watch_entries
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list watch entries: %w", err)
	}
	defer rows.Close()

	var out []WatchEntry
	for rows.Next() {
		var e WatchEntry
		var period string
		if err := rows.Scan(&e.ID, &e.Instrument, &e.Strategy, &e.Version, &period, &e.Matched, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan watch entry: %w", err)
		}
		e.Period = market.Period(period)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (w *PGWatchlist) Add(ctx context.Context, e WatchEntry) error {
	_, err := w.db.Exec(ctx, `
		INSERT INTO watch_entries (id, instrument, strategy, version, period, matched, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, e.ID, e.Instrument, e.Strategy, e.Version, string(e.Period), e.Matched)
	if err != nil {
		return fmt.Errorf("add watch entry: %w", err)
	}
	return nil
}

func (w *PGWatchlist) Remove(ctx context.Context, id uuid.UUID) error {
	tag, err := w.db.Exec(ctx, `DELETE FROM watch_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove watch entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return nil
}

func (w *PGWatchlist) SetMatched(ctx context.Context, id uuid.UUID, matched bool, at time.Time) error {
	tag, err := w.db.Exec(ctx, `
		UPDATE watch_entries SET matched = $2, updated_at = $3 WHERE id = $1
	`, id, matched, at)
	if err != nil {
		return fmt.Errorf("update watch entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return nil
}

// MemoryWatchlist keeps entries in memory. Used by tests and single-process
// runs without a database.
type MemoryWatchlist struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]WatchEntry
	order   []uuid.UUID
}

// NewMemoryWatchlist creates an empty in-memory watchlist.
func NewMemoryWatchlist() *MemoryWatchlist {
	return &MemoryWatchlist{entries: make(map[uuid.UUID]WatchEntry)}
}

func (w *MemoryWatchlist) List(ctx context.Context) ([]WatchEntry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]WatchEntry, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.entries[id])
	}
	return out, nil
}

func (w *MemoryWatchlist) Add(ctx context.Context, e WatchEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.entries[e.ID]; !exists {
		w.order = append(w.order, e.ID)
	}
	w.entries[e.ID] = e
	return nil
}

func (w *MemoryWatchlist) Remove(ctx context.Context, id uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.entries[id]; !exists {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	delete(w.entries, id)
	for i, oid := range w.order {
		if oid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return nil
}

func (w *MemoryWatchlist) SetMatched(ctx context.Context, id uuid.UUID, matched bool, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, exists := w.entries[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	e.Matched = matched
	e.UpdatedAt = at
	w.entries[id] = e
	return nil
}
