package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/monitor"
	"github.com/hexleaf/equity-screener/internal/selector"
)

const (
	// SubjectSelection carries completed selection runs.
	SubjectSelection = "results.selection"
	// SubjectAlerts carries match-state transition alerts.
	SubjectAlerts = "alerts.transition"
)

// NATSPublisher emits selection results and alerts onto JetStream subjects
// for downstream consumers (display layers, exporters, notification
// workers).
type NATSPublisher struct {
	js     nats.JetStreamContext
	logger zerolog.Logger
}

// NewNATSPublisher creates a publisher over an existing JetStream context.
func NewNATSPublisher(js nats.JetStreamContext, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		js:     js,
		logger: logger.With().Str("component", "nats_sink").Logger(),
	}
}

// selectionMessage is the wire form of one completed run.
type selectionMessage struct {
	RunID     uuid.UUID         `json:"run_id"`
	Strategy  string            `json:"strategy"`
	Version   int               `json:"version"`
	AsOf      time.Time         `json:"as_of"`
	Results   []selector.Result `json:"results"`
	Published time.Time         `json:"published"`
}

// PublishResults emits one ordered selection run.
func (p *NATSPublisher) PublishResults(ctx context.Context, runID uuid.UUID, strategy string, version int, asOf time.Time, results []selector.Result) error {
	msg := selectionMessage{
		RunID:     runID,
		Strategy:  strategy,
		Version:   version,
		AsOf:      asOf,
		Results:   results,
		Published: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal selection message: %w", err)
	}
	if _, err := p.js.Publish(SubjectSelection, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish selection run %s: %w", runID, err)
	}
	p.logger.Debug().
		Str("run_id", runID.String()).
		Int("results", len(results)).
		Msg("Published selection run")
	return nil
}

// Publish emits one alert. Implements monitor.AlertSink.
func (p *NATSPublisher) Publish(ctx context.Context, alert monitor.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if _, err := p.js.Publish(SubjectAlerts, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.ID, err)
	}
	return nil
}
