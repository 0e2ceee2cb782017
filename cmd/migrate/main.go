package main

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/rule"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer pool.Close()

	log.Println("Connected to database, running migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			instrument TEXT NOT NULL,
			period TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (instrument, period, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_period_ts ON bars (period, ts)`,

		`CREATE TABLE IF NOT EXISTS strategy_templates (
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			periods TEXT[] NOT NULL,
			tree JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_category ON strategy_templates (category)`,

		`CREATE TABLE IF NOT EXISTS watch_entries (
			id UUID PRIMARY KEY,
			instrument TEXT NOT NULL,
			strategy TEXT NOT NULL,
			version INTEGER NOT NULL,
			period TEXT NOT NULL,
			matched BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (instrument, strategy, version, period)
		)`,

		`CREATE TABLE IF NOT EXISTS monitor_alerts (
			id UUID PRIMARY KEY,
			entry_id UUID NOT NULL,
			instrument TEXT NOT NULL,
			strategy TEXT NOT NULL,
			version INTEGER NOT NULL,
			period TEXT NOT NULL,
			transition TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_unread ON monitor_alerts (created_at DESC) WHERE is_read = FALSE`,

		`CREATE TABLE IF NOT EXISTS selection_runs (
			id UUID PRIMARY KEY,
			strategy TEXT NOT NULL,
			version INTEGER NOT NULL,
			as_of TIMESTAMPTZ NOT NULL,
			pair_count INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS selection_results (
			run_id UUID NOT NULL REFERENCES selection_runs(id) ON DELETE CASCADE,
			rank INTEGER NOT NULL,
			instrument TEXT NOT NULL,
			period TEXT NOT NULL,
			matched BOOLEAN NOT NULL,
			failed BOOLEAN NOT NULL,
			fail_reason TEXT NOT NULL DEFAULT '',
			trace JSONB,
			PRIMARY KEY (run_id, rank)
		)`,
	}

	for _, migration := range migrations {
		_, err := pool.Exec(ctx, migration)
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	}
	log.Println("Schema migrations completed")

	store := rule.NewStore(pool, zerolog.New(os.Stderr))
	if err := store.SeedBuiltins(ctx); err != nil {
		log.Fatalf("Failed to seed builtin templates: %v", err)
	}
	log.Println("Builtin strategy templates seeded")
}
