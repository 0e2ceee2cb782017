package sink

import (
	"context"
	"errors"

	"github.com/hexleaf/equity-screener/internal/monitor"
)

// Fanout delivers each alert to every sink. All sinks are attempted; the
// joined error is returned so the loop can park the alert for retry when
// any delivery failed.
type Fanout struct {
	sinks []monitor.AlertSink
}

// NewFanout combines sinks into one.
func NewFanout(sinks ...monitor.AlertSink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Publish(ctx context.Context, alert monitor.Alert) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
