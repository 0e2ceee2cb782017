package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/market"
)

func testSeries(t *testing.T, closes []float64) *market.Series {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Instrument: "ACME",
			Period:     market.PeriodDaily,
			Timestamp:  start.AddDate(0, 0, i),
			Open:       c,
			High:       c + 1,
			Low:        c - 1,
			Close:      c,
			Volume:     1000,
		}
	}
	s, err := market.NewSeries("ACME", market.PeriodDaily, bars)
	require.NoError(t, err)
	return s
}

func testEnv(t *testing.T, series *market.Series, specs ...indicator.Spec) Env {
	t.Helper()
	env := Env{Bars: series, Indicators: make(map[string]*indicator.Result)}
	for _, spec := range specs {
		r, err := indicator.Compute(series, spec)
		require.NoError(t, err)
		env.Indicators[spec.Key()] = r
	}
	return env
}

func f(v float64) *float64 { return &v }

func condNode(c Condition) Node { return Node{Cond: &c} }

func TestEvaluateComparison(t *testing.T) {
	series := testSeries(t, []float64{10, 11, 12, 13, 14, 15})
	ma5 := indicator.MA(5)
	env := testEnv(t, series, ma5)

	tests := []struct {
		name string
		cond Condition
		at   int
		want bool
	}{
		{
			name: "close above ma",
			cond: Condition{Left: Operand{Price: market.FieldClose}, Op: OpGT, Right: &Operand{Indicator: &ma5}},
			at:   5,
			want: true, // close 15 > ma 13
		},
		{
			name: "close below ma",
			cond: Condition{Left: Operand{Price: market.FieldClose}, Op: OpLT, Right: &Operand{Indicator: &ma5}},
			at:   5,
			want: false,
		},
		{
			name: "const comparison",
			cond: Condition{Left: Operand{Price: market.FieldClose}, Op: OpGE, Right: &Operand{Const: f(15)}},
			at:   5,
			want: true,
		},
		{
			name: "in range",
			cond: Condition{Left: Operand{Price: market.FieldClose}, Op: OpInRange, Min: f(14), Max: f(16)},
			at:   5,
			want: true,
		},
		{
			name: "out of range",
			cond: Condition{Left: Operand{Price: market.FieldClose}, Op: OpInRange, Min: f(0), Max: f(10)},
			at:   5,
			want: false,
		},
		{
			name: "scaled operand",
			cond: Condition{Left: Operand{Price: market.FieldClose}, Op: OpGT, Right: &Operand{Indicator: &ma5, Scale: 2}},
			at:   5,
			want: false, // 15 > 2*13 fails
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, trace := Evaluate(condNode(tt.cond), env, tt.at)
			require.Equal(t, tt.want, got)
			require.Len(t, trace, 1)
			require.Equal(t, tt.want, trace[0].Matched)
			require.False(t, trace[0].Unavailable)
		})
	}
}

func TestEvaluateCrossover(t *testing.T) {
	ma5 := indicator.MA(5)
	cross := condNode(Condition{
		Left:  Operand{Price: market.FieldClose},
		Op:    OpCrossAbove,
		Right: &Operand{Indicator: &ma5},
	})

	t.Run("cross after availability", func(t *testing.T) {
		// ma(5) at index 4 is 9, close 9 is not above; at index 5 ma is 10
		// and close 14 is above: a genuine flip.
		series := testSeries(t, []float64{9, 9, 9, 9, 9, 14})
		env := testEnv(t, series, ma5)

		got, _ := Evaluate(cross, env, 5)
		require.True(t, got)
		got, _ = Evaluate(cross, env, 4)
		require.False(t, got)
	})

	t.Run("cross on first availability", func(t *testing.T) {
		// The predicate is unavailable at index 3, which counts as false,
		// so becoming true at index 4 is a cross.
		series := testSeries(t, []float64{9, 9, 9, 9, 14})
		env := testEnv(t, series, ma5)

		got, trace := Evaluate(cross, env, 4)
		require.True(t, got)
		require.False(t, trace[0].Unavailable)
	})

	t.Run("false at index zero", func(t *testing.T) {
		one := indicator.MA(1)
		crossOne := condNode(Condition{
			Left:  Operand{Price: market.FieldClose},
			Op:    OpCrossAbove,
			Right: &Operand{Indicator: &one, Scale: 0.5},
		})
		series := testSeries(t, []float64{10, 11})
		env := testEnv(t, series, one)

		got, _ := Evaluate(crossOne, env, 0)
		require.False(t, got)
	})

	t.Run("no repeat while above", func(t *testing.T) {
		series := testSeries(t, []float64{9, 9, 9, 9, 9, 14, 15})
		env := testEnv(t, series, ma5)

		got, _ := Evaluate(cross, env, 6)
		require.False(t, got, "still above, no new cross")
	})

	t.Run("cross below", func(t *testing.T) {
		series := testSeries(t, []float64{15, 15, 15, 15, 15, 9})
		env := testEnv(t, series, ma5)
		below := condNode(Condition{
			Left:  Operand{Price: market.FieldClose},
			Op:    OpCrossBelow,
			Right: &Operand{Indicator: &ma5},
		})

		got, _ := Evaluate(below, env, 5)
		require.True(t, got)
	})
}

func TestEvaluateUnavailableLeaf(t *testing.T) {
	series := testSeries(t, []float64{10, 11, 12})
	ma5 := indicator.MA(5)

	t.Run("warm-up region", func(t *testing.T) {
		env := testEnv(t, series, ma5)
		n := condNode(Condition{Left: Operand{Indicator: &ma5}, Op: OpGT, Right: &Operand{Const: f(0)}})

		got, trace := Evaluate(n, env, 2)
		require.False(t, got)
		require.Len(t, trace, 1)
		require.True(t, trace[0].Unavailable)
	})

	t.Run("indicator missing from env", func(t *testing.T) {
		env := Env{Bars: series, Indicators: map[string]*indicator.Result{}}
		n := condNode(Condition{Left: Operand{Indicator: &ma5}, Op: OpGT, Right: &Operand{Const: f(0)}})

		got, trace := Evaluate(n, env, 2)
		require.False(t, got)
		require.True(t, trace[0].Unavailable)
	})
}

func TestEvaluateCombinators(t *testing.T) {
	series := testSeries(t, []float64{10, 11, 12, 13, 14, 15})
	env := testEnv(t, series)

	truthy := condNode(Condition{Left: Operand{Price: market.FieldClose}, Op: OpGT, Right: &Operand{Const: f(0)}})
	falsy := condNode(Condition{Left: Operand{Price: market.FieldClose}, Op: OpLT, Right: &Operand{Const: f(0)}})

	t.Run("and monotonic under false leaf", func(t *testing.T) {
		matched, _ := Evaluate(Node{All: []Node{truthy, truthy}}, env, 5)
		require.True(t, matched)

		matched, _ = Evaluate(Node{All: []Node{truthy, truthy, falsy}}, env, 5)
		require.False(t, matched, "adding a false leaf to AND must never turn it true")
	})

	t.Run("or keeps true when false leaf added", func(t *testing.T) {
		matched, _ := Evaluate(Node{Any: []Node{truthy, falsy}}, env, 5)
		require.True(t, matched)
	})

	t.Run("not inverts", func(t *testing.T) {
		matched, _ := Evaluate(Node{Not: &falsy}, env, 5)
		require.True(t, matched)
	})

	t.Run("and short-circuit traces only evaluated leaves", func(t *testing.T) {
		_, trace := Evaluate(Node{All: []Node{falsy, truthy, truthy}}, env, 5)
		require.Len(t, trace, 1)
	})

	t.Run("or short-circuit traces only evaluated leaves", func(t *testing.T) {
		_, trace := Evaluate(Node{Any: []Node{truthy, falsy}}, env, 5)
		require.Len(t, trace, 1)
	})
}

func TestNodeSpecsDeduplicates(t *testing.T) {
	ma5 := indicator.MA(5)
	ma10 := indicator.MA(10)
	tree := Node{All: []Node{
		condNode(Condition{Left: Operand{Indicator: &ma5}, Op: OpGT, Right: &Operand{Indicator: &ma10}}),
		condNode(Condition{Left: Operand{Price: market.FieldClose}, Op: OpGT, Right: &Operand{Indicator: &ma5}}),
	}}

	specs := tree.Specs()
	require.Len(t, specs, 2)
	keys := map[string]bool{}
	for _, s := range specs {
		keys[s.Key()] = true
	}
	require.True(t, keys["ma(5)"])
	require.True(t, keys["ma(10)"])
}
