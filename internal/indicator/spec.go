package indicator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInsufficientData marks a series shorter than the indicator's minimum
// window. Callers treat it as "no signal yet", never as a fatal error.
var ErrInsufficientData = errors.New("insufficient data")

// Kind identifies an indicator recipe.
type Kind string

const (
	KindMA   Kind = "ma"
	KindVMA  Kind = "vma"
	KindRSI  Kind = "rsi"
	KindMACD Kind = "macd"
	KindKDJ  Kind = "kdj"
	KindBOLL Kind = "boll"
	KindATR  Kind = "atr"
	KindHHV  Kind = "hhv" // highest high over the window
	KindLLV  Kind = "llv" // lowest low over the window
)

// maxWindow bounds every window parameter. Anything larger is a
// misconfiguration, not a real screening window.
const maxWindow = 500

// Spec identifies an indicator computation: kind plus parameters. Two specs
// with equal Key() are interchangeable and cacheable.
type Spec struct {
	Kind    Kind    `json:"kind"`
	Window  int     `json:"window,omitempty"`   // MA, VMA, RSI, BOLL, ATR, KDJ RSV window
	Fast    int     `json:"fast,omitempty"`     // MACD
	Slow    int     `json:"slow,omitempty"`     // MACD
	Signal  int     `json:"signal,omitempty"`   // MACD
	SmoothK int     `json:"smooth_k,omitempty"` // KDJ
	SmoothD int     `json:"smooth_d,omitempty"` // KDJ
	Mult    float64 `json:"mult,omitempty"`     // BOLL band width in stddevs
}

// MA returns a simple moving average spec over window closes.
func MA(window int) Spec { return Spec{Kind: KindMA, Window: window} }

// VMA returns a volume moving average spec.
func VMA(window int) Spec { return Spec{Kind: KindVMA, Window: window} }

// RSI returns a Wilder RSI spec.
func RSI(window int) Spec { return Spec{Kind: KindRSI, Window: window} }

// MACD returns a MACD spec with the given EMA lengths.
func MACD(fast, slow, signal int) Spec {
	return Spec{Kind: KindMACD, Fast: fast, Slow: slow, Signal: signal}
}

// KDJ returns a stochastic KDJ spec.
func KDJ(window, smoothK, smoothD int) Spec {
	return Spec{Kind: KindKDJ, Window: window, SmoothK: smoothK, SmoothD: smoothD}
}

// BOLL returns a Bollinger band spec.
func BOLL(window int, mult float64) Spec {
	return Spec{Kind: KindBOLL, Window: window, Mult: mult}
}

// ATR returns an average-true-range spec.
func ATR(window int) Spec { return Spec{Kind: KindATR, Window: window} }

// HHV returns a highest-high spec over window bars.
func HHV(window int) Spec { return Spec{Kind: KindHHV, Window: window} }

// LLV returns a lowest-low spec over window bars.
func LLV(window int) Spec { return Spec{Kind: KindLLV, Window: window} }

// Key returns the canonical identity string for the spec. Equal keys mean
// interchangeable results.
func (s Spec) Key() string {
	switch s.Kind {
	case KindMACD:
		return fmt.Sprintf("macd(%d,%d,%d)", s.Fast, s.Slow, s.Signal)
	case KindKDJ:
		return fmt.Sprintf("kdj(%d,%d,%d)", s.Window, s.SmoothK, s.SmoothD)
	case KindBOLL:
		return fmt.Sprintf("boll(%d,%g)", s.Window, s.Mult)
	default:
		return fmt.Sprintf("%s(%d)", s.Kind, s.Window)
	}
}

// ParseKey parses the canonical text form produced by Key, for example
// "ma(20)", "macd(12,26,9)" or "boll(20,2)". The returned spec is validated.
func ParseKey(raw string) (Spec, error) {
	open := strings.IndexByte(raw, '(')
	if open <= 0 || !strings.HasSuffix(raw, ")") {
		return Spec{}, fmt.Errorf("malformed indicator key %q", raw)
	}
	kind := Kind(strings.ToLower(raw[:open]))
	parts := strings.Split(raw[open+1:len(raw)-1], ",")
	ints := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil && kind != KindBOLL {
			return Spec{}, fmt.Errorf("indicator key %q: bad parameter %q", raw, p)
		}
		ints[i] = n
	}

	var spec Spec
	switch kind {
	case KindMACD:
		if len(parts) != 3 {
			return Spec{}, fmt.Errorf("indicator key %q: macd takes fast,slow,signal", raw)
		}
		spec = MACD(ints[0], ints[1], ints[2])
	case KindKDJ:
		if len(parts) != 3 {
			return Spec{}, fmt.Errorf("indicator key %q: kdj takes window,smoothK,smoothD", raw)
		}
		spec = KDJ(ints[0], ints[1], ints[2])
	case KindBOLL:
		if len(parts) != 2 {
			return Spec{}, fmt.Errorf("indicator key %q: boll takes window,mult", raw)
		}
		window, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return Spec{}, fmt.Errorf("indicator key %q: bad window %q", raw, parts[0])
		}
		mult, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return Spec{}, fmt.Errorf("indicator key %q: bad multiplier %q", raw, parts[1])
		}
		spec = BOLL(window, mult)
	case KindMA, KindVMA, KindRSI, KindATR, KindHHV, KindLLV:
		if len(parts) != 1 {
			return Spec{}, fmt.Errorf("indicator key %q: %s takes a single window", raw, kind)
		}
		spec = Spec{Kind: kind, Window: ints[0]}
	default:
		return Spec{}, fmt.Errorf("unknown indicator kind %q", raw[:open])
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate checks parameter bounds for the spec's kind.
func (s Spec) Validate() error {
	inRange := func(name string, v int) error {
		if v <= 0 || v > maxWindow {
			return fmt.Errorf("indicator %s: %s %d out of range (1..%d)", s.Kind, name, v, maxWindow)
		}
		return nil
	}

	switch s.Kind {
	case KindMA, KindVMA, KindRSI, KindATR, KindHHV, KindLLV:
		return inRange("window", s.Window)
	case KindBOLL:
		if err := inRange("window", s.Window); err != nil {
			return err
		}
		if s.Window < 2 {
			return fmt.Errorf("indicator boll: window %d too short for a stddev", s.Window)
		}
		if s.Mult <= 0 {
			return fmt.Errorf("indicator boll: mult %g must be positive", s.Mult)
		}
		return nil
	case KindMACD:
		for name, v := range map[string]int{"fast": s.Fast, "slow": s.Slow, "signal": s.Signal} {
			if err := inRange(name, v); err != nil {
				return err
			}
		}
		if s.Fast >= s.Slow {
			return fmt.Errorf("indicator macd: fast %d must be shorter than slow %d", s.Fast, s.Slow)
		}
		return nil
	case KindKDJ:
		for name, v := range map[string]int{"window": s.Window, "smooth_k": s.SmoothK, "smooth_d": s.SmoothD} {
			if err := inRange(name, v); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown indicator kind %q", s.Kind)
	}
}

// MinBars returns the fewest bars needed for the spec to produce a value.
func (s Spec) MinBars() int {
	switch s.Kind {
	case KindRSI:
		// needs Window price changes, so one extra bar
		return s.Window + 1
	case KindMACD:
		return s.Slow + s.Signal - 1
	default:
		return s.Window
	}
}

// LineNames returns the output line names in a stable order. The first name
// is the primary line used when a rule references the spec without naming one.
func (s Spec) LineNames() []string {
	switch s.Kind {
	case KindMACD:
		return []string{"dif", "dea", "macd"}
	case KindKDJ:
		return []string{"k", "d", "j"}
	case KindBOLL:
		return []string{"mid", "upper", "lower"}
	default:
		return []string{"value"}
	}
}
