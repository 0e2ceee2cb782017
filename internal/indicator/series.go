package indicator

import "math"

// Line is one named output series of an indicator, aligned index-for-index
// with the bar series that produced it. Entries before firstValid are
// undefined and only observable through At's ok flag.
type Line struct {
	vals       []float64
	firstValid int
}

func newLine(n, firstValid int) *Line {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.NaN()
	}
	if firstValid > n {
		firstValid = n
	}
	return &Line{vals: vals, firstValid: firstValid}
}

// Len returns the number of entries (valid or not).
func (l *Line) Len() int { return len(l.vals) }

// FirstValid returns the index of the first defined entry; Len() when the
// series never warmed up.
func (l *Line) FirstValid() int { return l.firstValid }

// At returns the value at index i and whether it is defined.
func (l *Line) At(i int) (float64, bool) {
	if i < l.firstValid || i >= len(l.vals) {
		return 0, false
	}
	return l.vals[i], true
}

func (l *Line) set(i int, v float64) { l.vals[i] = v }

// appendVal grows the line by one trailing entry.
func (l *Line) appendVal(v float64, valid bool) {
	if !valid {
		v = math.NaN()
		if l.firstValid == len(l.vals) {
			l.firstValid++
		}
	}
	l.vals = append(l.vals, v)
}

// clone deep-copies the line so an extended result never aliases its parent.
func (l *Line) clone() *Line {
	vals := make([]float64, len(l.vals), len(l.vals)+1)
	copy(vals, l.vals)
	return &Line{vals: vals, firstValid: l.firstValid}
}

// carry holds the O(1) recurrence state some kinds need to extend without a
// full recompute. Fields are meaningful per kind only.
type carry struct {
	emaFast, emaSlow, dea float64 // macd
	avgGain, avgLoss      float64 // rsi, once established
	rsiReady              bool
	k, d                  float64 // kdj, once established
	kdjReady              bool
}

// Result is the computed output of one Spec over one bar series.
type Result struct {
	Spec  Spec
	lines map[string]*Line
	n     int
	st    carry
}

// Line returns the named output line, or nil if the spec has no such line.
func (r *Result) Line(name string) *Line {
	if name == "" {
		name = r.Spec.LineNames()[0]
	}
	return r.lines[name]
}

// Len returns the number of aligned entries.
func (r *Result) Len() int { return r.n }

func (r *Result) clone() *Result {
	lines := make(map[string]*Line, len(r.lines))
	for name, l := range r.lines {
		lines[name] = l.clone()
	}
	return &Result{Spec: r.Spec, lines: lines, n: r.n, st: r.st}
}
