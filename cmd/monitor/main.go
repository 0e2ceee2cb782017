package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hexleaf/equity-screener/internal/barstore"
	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/market"
	"github.com/hexleaf/equity-screener/internal/monitor"
	"github.com/hexleaf/equity-screener/internal/provider"
	"github.com/hexleaf/equity-screener/internal/rule"
	"github.com/hexleaf/equity-screener/internal/sink"
	"github.com/hexleaf/equity-screener/pkg/database"
	"github.com/hexleaf/equity-screener/pkg/messaging"
	"github.com/hexleaf/equity-screener/pkg/observability"
)

func main() {
	logger := observability.NewLogger("monitor", getEnv("LOG_LEVEL", "info"))
	metrics := observability.GetCollector()
	health := observability.NewHealthChecker()

	logger.Info().Msg("Starting monitor service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Shutdown signal received")
		cancel()
	}()

	db, err := database.NewPool(ctx, database.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		Database: getEnv("DB_NAME", "screener"),
		User:     getEnv("DB_USER", "screener"),
		Password: getEnv("DB_PASSWORD", "screener"),
		MaxConns: 10,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close(db)
	health.AddCheck("postgres", func(ctx context.Context) error {
		return db.Ping(ctx)
	})

	// Redis backs the alert cooldown; without it a local map serves one
	// instance.
	var rdb *redis.Client
	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" && redisURL != "disabled" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     redisURL,
			Password: getEnv("REDIS_PASSWORD", ""),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to Redis, cooldown state is process-local")
			rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
			health.AddCheck("redis", func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			})
		}
	}

	// Alerts fan out to NATS, Postgres, and webhooks.
	alertStore := sink.NewAlertStore(db, logger)
	sinks := []monitor.AlertSink{alertStore}
	if natsURL := getEnv("NATS_URL", ""); natsURL != "" {
		nc, err := messaging.NewNATSConn(messaging.Config{URL: natsURL})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		health.AddCheck("nats", func(ctx context.Context) error {
			if nc.IsClosed() {
				return fmt.Errorf("NATS connection closed")
			}
			return nil
		})

		js, err := messaging.NewJetStream(nc)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create JetStream context")
		}
		if err := messaging.EnsureStreams(js); err != nil {
			logger.Fatal().Err(err).Msg("Failed to ensure streams")
		}
		sinks = append(sinks, sink.NewNATSPublisher(js, logger))
	}
	if webhooks := getEnvSlice("WEBHOOK_URLS"); len(webhooks) > 0 {
		cooldown := monitor.NewCooldown(rdb,
			time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300))*time.Second, logger)
		sinks = append(sinks, sink.NewNotifier(webhooks, cooldown, logger))
	}

	// Bar source and the shared fetch gate.
	var store barstore.Store
	pgStore := barstore.NewPGStore(db, logger)
	store = pgStore
	if providerURL := getEnv("PROVIDER_URL", ""); providerURL != "" {
		store = provider.NewClient(providerURL, logger)
	}
	gate := barstore.NewGate(int64(getEnvInt("FETCH_CONCURRENCY", 8)))
	retrier := barstore.NewRetrier(barstore.NewGated(store, gate),
		getEnvInt("FETCH_RETRIES", barstore.DefaultMaxAttempts),
		time.Duration(getEnvInt("FETCH_BACKOFF_MS", 500))*time.Millisecond,
		logger)
	bars := barstore.NewSeriesCache(retrier, getEnvInt("LOOKBACK_BARS", barstore.DefaultLookbackBars))

	// Optional live feed: stream closed bars into rings and drain them
	// into the bars table.
	if streamURL := getEnv("STREAM_URL", ""); streamURL != "" {
		instruments := getEnvSlice("STREAM_INSTRUMENTS")
		if len(instruments) == 0 {
			logger.Fatal().Msg("STREAM_INSTRUMENTS is required when STREAM_URL is set")
		}
		rings := market.NewRingSet(getEnvInt("RING_CAPACITY", 1000))
		stream := provider.NewBarStream(streamURL, instruments, market.Periods, rings, logger)
		ingester := provider.NewIngester(rings, pgStore,
			time.Duration(getEnvInt("INGEST_INTERVAL_SEC", 30))*time.Second, logger)
		go stream.Run(ctx)
		go ingester.Run(ctx)
	}

	watchlist := monitor.NewPGWatchlist(db)
	templates := rule.NewStore(db, logger)

	loop := monitor.NewLoop(monitor.Config{
		Interval:      time.Duration(getEnvInt("CYCLE_INTERVAL_SEC", 60)) * time.Second,
		EntryTimeout:  time.Duration(getEnvInt("ENTRY_TIMEOUT_SEC", 10)) * time.Second,
		CycleDeadline: time.Duration(getEnvInt("CYCLE_DEADLINE_SEC", 45)) * time.Second,
		Workers:       getEnvInt("WORKERS", 4),
	}, watchlist, templates, bars, indicator.NewCache(), sink.NewFanout(sinks...), logger)

	// Health, metrics, and alert review endpoints.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", health.ReadinessHandler())
	mux.HandleFunc("/metrics", metrics.Handler())
	mux.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		alerts, err := alertStore.ListUnread(r.Context(), limit)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to list unread alerts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(alerts)
	})
	mux.HandleFunc("/alerts/read", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var ids []uuid.UUID
		if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := alertStore.MarkRead(r.Context(), ids); err != nil {
			logger.Error().Err(err).Msg("Failed to mark alerts read")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	httpServer := &http.Server{
		Addr:    ":" + getEnv("HTTP_PORT", "8084"),
		Handler: mux,
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Serving health and metrics")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Cycle state gauge for dashboards.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				busy := 0.0
				if loop.State() != monitor.StateIdle {
					busy = 1.0
				}
				metrics.Gauge(observability.MetricMonitorBusy).Set(busy)
			}
		}
	}()

	if err := loop.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Monitor loop failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info().Msg("Monitor service stopped")
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
