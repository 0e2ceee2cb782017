package rule

import (
	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/market"
)

// Env holds everything a tree needs at evaluation time: the bar series and
// the precomputed indicator results, keyed by spec key.
type Env struct {
	Bars       *market.Series
	Indicators map[string]*indicator.Result
}

// LeafTrace records the outcome of one evaluated leaf. Leaves skipped by
// short-circuiting do not appear.
type LeafTrace struct {
	Condition   string `json:"condition"`
	Matched     bool   `json:"matched"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// Evaluate walks the tree post-order at the given bar offset. A leaf whose
// operand cannot be resolved, because the indicator is missing from env or
// the offset sits inside its warm-up region, evaluates to false and is
// traced as unavailable: strategies never match on missing data.
func Evaluate(n Node, env Env, at int) (bool, []LeafTrace) {
	var trace []LeafTrace
	ok := eval(n, env, at, &trace)
	return ok, trace
}

func eval(n Node, env Env, at int, trace *[]LeafTrace) bool {
	switch {
	case n.Cond != nil:
		return evalCond(n.Cond, env, at, trace)
	case n.Not != nil:
		return !eval(*n.Not, env, at, trace)
	case len(n.All) > 0:
		for _, child := range n.All {
			if !eval(child, env, at, trace) {
				return false
			}
		}
		return true
	case len(n.Any) > 0:
		for _, child := range n.Any {
			if eval(child, env, at, trace) {
				return true
			}
		}
		return false
	}
	return false
}

func evalCond(c *Condition, env Env, at int, trace *[]LeafTrace) bool {
	matched, available := condAt(c, env, at)
	*trace = append(*trace, LeafTrace{
		Condition:   c.String(),
		Matched:     matched,
		Unavailable: !available,
	})
	return matched
}

// condAt resolves the condition at one offset. For crossover ops the
// predicate must hold at the offset and not at the one before it; a prior
// offset that is out of range or unavailable counts as not holding, so a
// crossover can fire on the first bar the indicator becomes available.
func condAt(c *Condition, env Env, at int) (matched, available bool) {
	switch c.Op {
	case OpCrossAbove, OpCrossBelow:
		now, ok := predAt(c, env, at)
		if !ok {
			return false, false
		}
		if at == 0 {
			return false, true
		}
		prev, _ := predAt(c, env, at-1)
		return now && !prev, true
	default:
		return predAt(c, env, at)
	}
}

// predAt evaluates the underlying comparison at one offset.
func predAt(c *Condition, env Env, at int) (matched, available bool) {
	left, ok := c.Left.resolve(env, at)
	if !ok {
		return false, false
	}
	if c.Op == OpInRange {
		return left >= *c.Min && left <= *c.Max, true
	}
	right, ok := c.Right.resolve(env, at)
	if !ok {
		return false, false
	}
	switch c.Op {
	case OpGT, OpCrossAbove:
		return left > right, true
	case OpLT, OpCrossBelow:
		return left < right, true
	case OpGE:
		return left >= right, true
	case OpLE:
		return left <= right, true
	case OpEQ:
		return left == right, true
	}
	return false, false
}

func (o *Operand) resolve(env Env, at int) (float64, bool) {
	var v float64
	switch {
	case o.Const != nil:
		v = *o.Const
	case o.Indicator != nil:
		r, ok := env.Indicators[o.Indicator.Key()]
		if !ok {
			return 0, false
		}
		val, err := r.ValueAt(o.Line, at)
		if err != nil {
			return 0, false
		}
		v = val
	default:
		if env.Bars == nil || at < 0 || at >= env.Bars.Len() {
			return 0, false
		}
		v = env.Bars.At(at).Value(o.Price)
	}
	if o.Scale != 0 {
		v *= o.Scale
	}
	return v, true
}
