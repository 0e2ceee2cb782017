package sink

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/market"
	"github.com/hexleaf/equity-screener/internal/monitor"
)

// AlertStore persists alerts so users can review them later; each row
// carries a read flag the UI flips.
type AlertStore struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewAlertStore creates a Postgres-backed alert store.
func NewAlertStore(db *pgxpool.Pool, logger zerolog.Logger) *AlertStore {
	return &AlertStore{
		db:     db,
		logger: logger.With().Str("component", "alert_store").Logger(),
	}
}

// Publish writes one alert. Implements monitor.AlertSink.
func (s *AlertStore) Publish(ctx context.Context, alert monitor.Alert) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO monitor_alerts (id, entry_id, instrument, strategy, version, period, transition, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)
		ON CONFLICT (id) DO NOTHING
	`, alert.ID, alert.Entry.ID, alert.Entry.Instrument, alert.Entry.Strategy,
		alert.Entry.Version, string(alert.Entry.Period), string(alert.Transition), alert.Timestamp)
	if err != nil {
		return fmt.Errorf("save alert %s: %w", alert.ID, err)
	}
	return nil
}

// ListUnread returns unread alerts, newest first.
func (s *AlertStore) ListUnread(ctx context.Context, limit int) ([]monitor.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, entry_id, instrument, strategy, version, period, transition, created_at
		FROM monitor_alerts
		WHERE is_read = FALSE
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unread alerts: %w", err)
	}
	defer rows.Close()

	var out []monitor.Alert
	for rows.Next() {
		var (
			a          monitor.Alert
			period     string
			transition string
		)
		if err := rows.Scan(&a.ID, &a.Entry.ID, &a.Entry.Instrument, &a.Entry.Strategy,
			&a.Entry.Version, &period, &transition, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Entry.Period = market.Period(period)
		a.Transition = monitor.Transition(transition)
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkRead flips the read flag for the given alerts.
func (s *AlertStore) MarkRead(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE monitor_alerts SET is_read = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark alerts read: %w", err)
	}
	return nil
}
