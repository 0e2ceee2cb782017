package rule

import (
	"errors"
	"fmt"

	"github.com/hexleaf/equity-screener/internal/market"
)

// ErrInvalidStrategy wraps every template validation failure so callers can
// reject bad configuration records with a single check.
var ErrInvalidStrategy = errors.New("invalid strategy")

// Category groups templates for listing and filtering.
type Category string

const (
	CategoryTrend       Category = "trend"
	CategoryBreakout    Category = "breakout"
	CategoryOscillation Category = "oscillation"
)

// Template is a named, versioned strategy: a rule tree plus the periods it
// applies to and a category tag. Templates are data records; new strategies
// composed from existing condition kinds need no code change.
type Template struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     int             `json:"version"`
	Category    Category        `json:"category"`
	Description string          `json:"description,omitempty"`
	Periods     []market.Period `json:"periods"`
	Tree        Node            `json:"tree"`
}

// Validate rejects a malformed template at load time rather than at
// evaluation time. Every failure wraps ErrInvalidStrategy.
func (t *Template) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: template %q: %s", ErrInvalidStrategy, t.ID, fmt.Sprintf(format, args...))
	}
	if t.ID == "" {
		return fmt.Errorf("%w: template id is empty", ErrInvalidStrategy)
	}
	if t.Name == "" {
		return fail("name is empty")
	}
	if t.Version < 1 {
		return fail("version %d is not positive", t.Version)
	}
	switch t.Category {
	case CategoryTrend, CategoryBreakout, CategoryOscillation:
	default:
		return fail("unknown category %q", t.Category)
	}
	if len(t.Periods) == 0 {
		return fail("no applicable periods")
	}
	seen := make(map[market.Period]bool, len(t.Periods))
	for _, p := range t.Periods {
		if _, err := market.ParsePeriod(string(p)); err != nil {
			return fail("%v", err)
		}
		if seen[p] {
			return fail("duplicate period %q", p)
		}
		seen[p] = true
	}
	if err := t.Tree.Validate(); err != nil {
		return fail("%v", err)
	}
	return nil
}

// AppliesTo reports whether the template declares the period.
func (t *Template) AppliesTo(p market.Period) bool {
	for _, q := range t.Periods {
		if q == p {
			return true
		}
	}
	return false
}
