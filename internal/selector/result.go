package selector

import (
	"time"

	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/market"
	"github.com/hexleaf/equity-screener/internal/rule"
)

// Result is the outcome of evaluating one (instrument, period) pair against
// a strategy. Failed pairs are reported, never dropped, so a consumer can
// tell "did not match" from "could not be evaluated".
type Result struct {
	Instrument  string          `json:"instrument"`
	Strategy    string          `json:"strategy"`
	Version     int             `json:"version"`
	Period      market.Period   `json:"period"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
	Matched     bool            `json:"matched"`
	Trace       []rule.LeafTrace `json:"trace,omitempty"`
	Failed      bool            `json:"failed,omitempty"`
	FailReason  string          `json:"fail_reason,omitempty"`

	// sortValue is the resolved sort key at the match bar; NaN when the
	// key could not be resolved.
	sortValue float64
}

// SortKey names the value results are ordered by, resolved at the latest
// bar of each pair. Exactly one of Spec or Price is set; a nil key keeps
// instrument-id order.
type SortKey struct {
	Spec       *indicator.Spec
	Line       string
	Price      market.Field
	Descending bool
}
