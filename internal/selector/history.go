package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// History persists completed selection runs so past screens can be reviewed
// and compared. Each run gets a uuid; per-pair rows carry the trace as
// JSONB.
type History struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewHistory creates a selection history store.
func NewHistory(db *pgxpool.Pool, logger zerolog.Logger) *History {
	return &History{
		db:     db,
		logger: logger.With().Str("component", "selection_history").Logger(),
	}
}

// Record writes one completed run and returns its id. Rows are inserted in
// result order so reading a run back preserves the ranking.
func (h *History) Record(ctx context.Context, strategy string, version int, asOf time.Time, results []Result) (uuid.UUID, error) {
	runID := uuid.New()

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO selection_runs (id, strategy, version, as_of, pair_count, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, runID, strategy, version, asOf, len(results))

	for rank, r := range results {
		trace, err := json.Marshal(r.Trace)
		if err != nil {
			return uuid.Nil, fmt.Errorf("marshal trace for %s: %w", r.Instrument, err)
		}
		batch.Queue(`
			INSERT INTO selection_results (run_id, rank, instrument, period, matched, failed, fail_reason, trace)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, runID, rank, r.Instrument, string(r.Period), r.Matched, r.Failed, r.FailReason, trace)
	}

	br := h.db.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return uuid.Nil, fmt.Errorf("record selection run %s: %w", runID, err)
		}
	}

	h.logger.Info().
		Str("run_id", runID.String()).
		Str("strategy", strategy).
		Int("pairs", len(results)).
		Msg("Recorded selection run")
	return runID, nil
}
