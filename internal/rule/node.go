package rule

import (
	"fmt"
	"strings"

	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/market"
)

// Op is a leaf predicate kind.
type Op string

const (
	OpGT         Op = "gt"
	OpLT         Op = "lt"
	OpGE         Op = "ge"
	OpLE         Op = "le"
	OpEQ         Op = "eq"
	OpCrossAbove Op = "cross_above"
	OpCrossBelow Op = "cross_below"
	OpInRange    Op = "in_range"
)

// Operand names one value a condition reads at the evaluation offset.
// Exactly one of Indicator, Price or Const is set. Scale multiplies the
// resolved value; zero means no scaling, so plain operands need no field.
type Operand struct {
	Indicator *indicator.Spec `json:"indicator,omitempty"`
	Line      string          `json:"line,omitempty"`
	Price     market.Field    `json:"price,omitempty"`
	Const     *float64        `json:"const,omitempty"`
	Scale     float64         `json:"scale,omitempty"`
}

// Condition is an atomic predicate over one or two operands at a bar offset.
// Comparison and crossover ops read Left against Right; in_range reads Left
// against the [Min, Max] bounds.
type Condition struct {
	Left  Operand  `json:"left"`
	Op    Op       `json:"op"`
	Right *Operand `json:"right,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// Node is one vertex of a strategy tree: a leaf condition or a logical
// combinator over children. Exactly one field is set. Trees are built once
// from configuration records and never mutated, so they cannot form cycles.
type Node struct {
	All  []Node     `json:"all,omitempty"`
	Any  []Node     `json:"any,omitempty"`
	Not  *Node      `json:"not,omitempty"`
	Cond *Condition `json:"cond,omitempty"`
}

func (n Node) variants() int {
	c := 0
	if len(n.All) > 0 {
		c++
	}
	if len(n.Any) > 0 {
		c++
	}
	if n.Not != nil {
		c++
	}
	if n.Cond != nil {
		c++
	}
	return c
}

// Validate checks the tree's structure: one variant per node, known ops,
// well-formed operands, indicator parameters within bounds.
func (n Node) Validate() error {
	if n.variants() != 1 {
		return fmt.Errorf("node must have exactly one of all/any/not/cond")
	}
	switch {
	case n.Cond != nil:
		return n.Cond.validate()
	case n.Not != nil:
		return n.Not.Validate()
	}
	for _, child := range append(n.All, n.Any...) {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Condition) validate() error {
	if err := c.Left.validate(); err != nil {
		return fmt.Errorf("left operand: %w", err)
	}
	switch c.Op {
	case OpGT, OpLT, OpGE, OpLE, OpEQ, OpCrossAbove, OpCrossBelow:
		if c.Right == nil {
			return fmt.Errorf("op %q requires a right operand", c.Op)
		}
		if err := c.Right.validate(); err != nil {
			return fmt.Errorf("right operand: %w", err)
		}
	case OpInRange:
		if c.Min == nil || c.Max == nil {
			return fmt.Errorf("op in_range requires min and max")
		}
		if *c.Min > *c.Max {
			return fmt.Errorf("in_range bounds inverted: min %v > max %v", *c.Min, *c.Max)
		}
	default:
		return fmt.Errorf("unknown op %q", c.Op)
	}
	return nil
}

func (o *Operand) validate() error {
	set := 0
	if o.Indicator != nil {
		set++
	}
	if o.Price != "" {
		set++
	}
	if o.Const != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of indicator/price/const must be set")
	}
	if o.Scale < 0 {
		return fmt.Errorf("scale must be non-negative, got %v", o.Scale)
	}
	if o.Indicator != nil {
		if err := o.Indicator.Validate(); err != nil {
			return err
		}
		if o.Line != "" {
			names := o.Indicator.LineNames()
			found := false
			for _, name := range names {
				if name == o.Line {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("indicator %s has no line %q (have %s)",
					o.Indicator.Key(), o.Line, strings.Join(names, ", "))
			}
		}
		return nil
	}
	if o.Line != "" {
		return fmt.Errorf("line %q set on a non-indicator operand", o.Line)
	}
	if o.Price != "" {
		switch o.Price {
		case market.FieldOpen, market.FieldHigh, market.FieldLow, market.FieldClose, market.FieldVolume:
		default:
			return fmt.Errorf("unknown price field %q", o.Price)
		}
	}
	return nil
}

// Specs walks the tree and returns every distinct indicator spec it
// references, deduplicated by key. A spec shared by two leaves is computed
// once by callers.
func (n Node) Specs() []indicator.Spec {
	seen := make(map[string]bool)
	var out []indicator.Spec
	n.walkOperands(func(o *Operand) {
		if o.Indicator == nil {
			return
		}
		key := o.Indicator.Key()
		if !seen[key] {
			seen[key] = true
			out = append(out, *o.Indicator)
		}
	})
	return out
}

func (n Node) walkOperands(fn func(*Operand)) {
	if n.Cond != nil {
		fn(&n.Cond.Left)
		if n.Cond.Right != nil {
			fn(n.Cond.Right)
		}
		return
	}
	if n.Not != nil {
		n.Not.walkOperands(fn)
		return
	}
	for i := range n.All {
		n.All[i].walkOperands(fn)
	}
	for i := range n.Any {
		n.Any[i].walkOperands(fn)
	}
}

func (o *Operand) String() string {
	var base string
	switch {
	case o.Const != nil:
		base = fmt.Sprintf("%g", *o.Const)
	case o.Indicator != nil:
		base = o.Indicator.Key()
		if o.Line != "" {
			base += "." + o.Line
		}
	default:
		base = string(o.Price)
	}
	if o.Scale != 0 && o.Scale != 1 {
		return fmt.Sprintf("%g*%s", o.Scale, base)
	}
	return base
}

// String renders the condition the way it appears in traces, e.g.
// "macd(12,26,9).dif cross_above macd(12,26,9).dea".
func (c *Condition) String() string {
	if c.Op == OpInRange {
		return fmt.Sprintf("%s in [%g, %g]", c.Left.String(), *c.Min, *c.Max)
	}
	return fmt.Sprintf("%s %s %s", c.Left.String(), c.Op, c.Right.String())
}
