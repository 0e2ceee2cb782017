package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hexleaf/equity-screener/internal/barstore"
	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/market"
	"github.com/hexleaf/equity-screener/internal/provider"
	"github.com/hexleaf/equity-screener/internal/rule"
	"github.com/hexleaf/equity-screener/internal/selector"
	"github.com/hexleaf/equity-screener/internal/sink"
	"github.com/hexleaf/equity-screener/pkg/database"
	"github.com/hexleaf/equity-screener/pkg/messaging"
	"github.com/hexleaf/equity-screener/pkg/observability"
)

// The screener is a one-shot job: it evaluates one strategy over the
// universe as of now, records the run, publishes it, and exits.
func main() {
	logger := observability.NewLogger("screener", getEnv("LOG_LEVEL", "info"))
	metrics := observability.GetCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Shutdown signal received, cancelling run")
		cancel()
	}()

	db, err := database.NewPool(ctx, database.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		Database: getEnv("DB_NAME", "screener"),
		User:     getEnv("DB_USER", "screener"),
		Password: getEnv("DB_PASSWORD", "screener"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close(db)

	// Listing mode: print the latest template versions and exit. An empty
	// LIST_CATEGORY value lists every category.
	if os.Getenv("LIST_TEMPLATES") != "" {
		list, err := rule.NewStore(db, logger).ListByCategory(ctx, rule.Category(getEnv("LIST_CATEGORY", "")))
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to list strategy templates")
		}
		for _, t := range list {
			logger.Info().
				Str("id", t.ID).
				Int("version", t.Version).
				Str("category", string(t.Category)).
				Str("name", t.Name).
				Msg("Template")
		}
		return
	}

	strategy := getEnv("STRATEGY", "")
	if strategy == "" {
		logger.Fatal().Msg("STRATEGY is required")
	}
	version := getEnvInt("STRATEGY_VERSION", 0)

	// Bar source: the provider API when configured, otherwise the local
	// bars table.
	var store barstore.Store
	var universe []string
	providerURL := getEnv("PROVIDER_URL", "")
	if providerURL != "" {
		client := provider.NewClient(providerURL, logger)
		store = client
		if universe = getEnvSlice("UNIVERSE"); len(universe) == 0 {
			universe, err = client.Instruments(ctx)
			if err != nil {
				logger.Fatal().Err(err).Msg("Failed to fetch instrument universe")
			}
		}
	} else {
		store = barstore.NewPGStore(db, logger)
		universe = getEnvSlice("UNIVERSE")
		if len(universe) == 0 {
			logger.Fatal().Msg("UNIVERSE is required when no PROVIDER_URL is set")
		}
	}

	gate := barstore.NewGate(int64(getEnvInt("FETCH_CONCURRENCY", 8)))
	retrier := barstore.NewRetrier(barstore.NewGated(store, gate),
		getEnvInt("FETCH_RETRIES", barstore.DefaultMaxAttempts),
		time.Duration(getEnvInt("FETCH_BACKOFF_MS", 500))*time.Millisecond,
		logger)
	bars := barstore.NewSeriesCache(retrier, getEnvInt("LOOKBACK_BARS", barstore.DefaultLookbackBars))

	templates := rule.NewStore(db, logger)
	template, err := templates.Get(ctx, strategy, version)
	if err != nil {
		logger.Fatal().Err(err).Str("strategy", strategy).Msg("Failed to load strategy template")
	}

	periods := template.Periods
	if raw := getEnvSlice("PERIODS"); len(raw) > 0 {
		periods = make([]market.Period, 0, len(raw))
		for _, s := range raw {
			p, err := market.ParsePeriod(s)
			if err != nil {
				logger.Fatal().Err(err).Msg("Invalid PERIODS value")
			}
			periods = append(periods, p)
		}
	}

	sortKey, err := parseSortKey(getEnv("SORT_BY", ""))
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid SORT_BY value")
	}

	executor := selector.NewExecutor(bars, indicator.NewCache(), getEnvInt("WORKERS", selector.DefaultWorkers), logger)

	asOf := time.Now().UTC()
	stop := metrics.Timer(observability.MetricSelectionDuration)
	results, err := executor.Run(ctx, universe, template, periods, asOf, sortKey)
	stop()
	if err != nil {
		logger.Fatal().Err(err).Msg("Selection run failed")
	}

	metrics.Counter(observability.MetricSelectionRuns).Inc()
	metrics.Counter(observability.MetricPairsEvaluated).Add(float64(len(results)))
	for _, r := range results {
		if r.Matched {
			metrics.Counter(observability.MetricPairsMatched).Inc()
		}
		if r.Failed {
			metrics.Counter(observability.MetricPairsFailed).Inc()
		}
	}

	history := selector.NewHistory(db, logger)
	runID, err := history.Record(ctx, template.ID, template.Version, asOf, results)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to record selection run")
	}

	if natsURL := getEnv("NATS_URL", ""); natsURL != "" {
		nc, err := messaging.NewNATSConn(messaging.Config{URL: natsURL})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()

		js, err := messaging.NewJetStream(nc)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create JetStream context")
		}
		if err := messaging.EnsureStreams(js); err != nil {
			logger.Fatal().Err(err).Msg("Failed to ensure streams")
		}
		publisher := sink.NewNATSPublisher(js, logger)
		if err := publisher.PublishResults(ctx, runID, template.ID, template.Version, asOf, results); err != nil {
			logger.Fatal().Err(err).Msg("Failed to publish selection run")
		}
	}

	for _, r := range results {
		if !r.Matched {
			continue
		}
		logger.Info().
			Str("instrument", r.Instrument).
			Str("period", string(r.Period)).
			Msg("Match")
	}
	logger.Info().Str("run_id", runID.String()).Msg("Screener run complete")
}

// parseSortKey reads SORT_BY: a bar field such as "close" or "volume", or an
// indicator key such as "rsi(14)" or "macd(12,26,9).dif", with a leading "-"
// for descending order. Empty keeps instrument-id order.
func parseSortKey(raw string) (*selector.SortKey, error) {
	if raw == "" {
		return nil, nil
	}
	key := &selector.SortKey{}
	if strings.HasPrefix(raw, "-") {
		key.Descending = true
		raw = raw[1:]
	}
	if end := strings.IndexByte(raw, ')'); end >= 0 {
		line := ""
		if rest := raw[end+1:]; rest != "" {
			if !strings.HasPrefix(rest, ".") || len(rest) == 1 {
				return nil, fmt.Errorf("malformed sort key %q", raw)
			}
			line = rest[1:]
		}
		spec, err := indicator.ParseKey(raw[:end+1])
		if err != nil {
			return nil, fmt.Errorf("parse sort key: %w", err)
		}
		if line != "" {
			known := false
			for _, name := range spec.LineNames() {
				if name == line {
					known = true
					break
				}
			}
			if !known {
				return nil, fmt.Errorf("indicator %s has no line %q", spec.Key(), line)
			}
		}
		key.Spec = &spec
		key.Line = line
		return key, nil
	}
	switch f := market.Field(raw); f {
	case market.FieldOpen, market.FieldHigh, market.FieldLow, market.FieldClose, market.FieldVolume:
		key.Price = f
		return key, nil
	default:
		return nil, fmt.Errorf("unknown sort field %q", raw)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
