package indicator

import (
	"math"

	"github.com/hexleaf/equity-screener/internal/market"
)

// Compute evaluates spec over the whole series. It is a pure function of its
// inputs: the series is read, never written, and equal inputs give equal
// results. Entries inside the warm-up window are marked unavailable rather
// than fabricated; a series shorter than the minimum window yields a result
// with no available entries at all, which callers read as "no signal yet".
func Compute(series *market.Series, spec Spec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	n := series.Len()
	r := &Result{Spec: spec, n: n, lines: make(map[string]*Line)}

	switch spec.Kind {
	case KindMA:
		r.lines["value"] = rollingMean(series.Column(market.FieldClose), spec.Window)
	case KindVMA:
		r.lines["value"] = rollingMean(series.Column(market.FieldVolume), spec.Window)
	case KindRSI:
		computeRSI(r, series.Column(market.FieldClose), spec.Window)
	case KindMACD:
		computeMACD(r, series.Column(market.FieldClose), spec)
	case KindKDJ:
		computeKDJ(r, series, spec)
	case KindBOLL:
		computeBOLL(r, series.Column(market.FieldClose), spec)
	case KindATR:
		computeATR(r, series, spec.Window)
	case KindHHV:
		r.lines["value"] = rollingExtreme(series.Column(market.FieldHigh), spec.Window, true)
	case KindLLV:
		r.lines["value"] = rollingExtreme(series.Column(market.FieldLow), spec.Window, false)
	}
	return r, nil
}

func rollingExtreme(vals []float64, window int, max bool) *Line {
	l := newLine(len(vals), window-1)
	for i := window - 1; i < len(vals); i++ {
		ext := vals[i-window+1]
		for _, v := range vals[i-window+2 : i+1] {
			if (max && v > ext) || (!max && v < ext) {
				ext = v
			}
		}
		l.set(i, ext)
	}
	return l
}

// ValueAt reads one line at one offset, failing with ErrInsufficientData when
// the entry is inside the warm-up region or past the end.
func (r *Result) ValueAt(line string, i int) (float64, error) {
	l := r.Line(line)
	if l == nil {
		return 0, ErrInsufficientData
	}
	v, ok := l.At(i)
	if !ok {
		return 0, ErrInsufficientData
	}
	return v, nil
}

func rollingMean(vals []float64, window int) *Line {
	l := newLine(len(vals), window-1)
	sum := 0.0
	for i, v := range vals {
		sum += v
		if i >= window {
			sum -= vals[i-window]
		}
		if i >= window-1 {
			l.set(i, sum/float64(window))
		}
	}
	return l
}

// computeRSI uses Wilder smoothing: the first average is a plain mean of the
// first window gains/losses, every later one a (n-1)/n blend.
func computeRSI(r *Result, closes []float64, window int) {
	n := len(closes)
	l := newLine(n, window)
	if n >= window+1 {
		var gain, loss float64
		for i := 1; i <= window; i++ {
			d := closes[i] - closes[i-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		avgGain := gain / float64(window)
		avgLoss := loss / float64(window)
		l.set(window, rsiValue(avgGain, avgLoss))
		for i := window + 1; i < n; i++ {
			d := closes[i] - closes[i-1]
			g, lo := 0.0, 0.0
			if d > 0 {
				g = d
			} else {
				lo = -d
			}
			avgGain = (avgGain*float64(window-1) + g) / float64(window)
			avgLoss = (avgLoss*float64(window-1) + lo) / float64(window)
			l.set(i, rsiValue(avgGain, avgLoss))
		}
		r.st.avgGain, r.st.avgLoss, r.st.rsiReady = avgGain, avgLoss, true
	}
	r.lines["value"] = l
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func computeMACD(r *Result, closes []float64, spec Spec) {
	n := len(closes)
	difValid := spec.Slow - 1
	deaValid := spec.Slow + spec.Signal - 2
	dif := newLine(n, difValid)
	dea := newLine(n, deaValid)
	hist := newLine(n, deaValid)

	if n > 0 {
		emaFast, emaSlow := closes[0], closes[0]
		aF := 2.0 / float64(spec.Fast+1)
		aS := 2.0 / float64(spec.Slow+1)
		aSig := 2.0 / float64(spec.Signal+1)
		d0 := 0.0
		for i := 0; i < n; i++ {
			if i > 0 {
				emaFast += aF * (closes[i] - emaFast)
				emaSlow += aS * (closes[i] - emaSlow)
			}
			difV := emaFast - emaSlow
			if i == 0 {
				d0 = difV
			} else {
				d0 += aSig * (difV - d0)
			}
			if i >= difValid {
				dif.set(i, difV)
			}
			if i >= deaValid {
				dea.set(i, d0)
				hist.set(i, 2*(difV-d0))
			}
		}
		r.st.emaFast, r.st.emaSlow, r.st.dea = emaFast, emaSlow, d0
	}
	r.lines["dif"], r.lines["dea"], r.lines["macd"] = dif, dea, hist
}

func computeKDJ(r *Result, series *market.Series, spec Spec) {
	n := series.Len()
	first := spec.Window - 1
	k := newLine(n, first)
	d := newLine(n, first)
	j := newLine(n, first)

	highs := series.Column(market.FieldHigh)
	lows := series.Column(market.FieldLow)
	closes := series.Column(market.FieldClose)

	var kv, dv float64
	for i := first; i < n; i++ {
		rsv := rawStochastic(highs, lows, closes, i, spec.Window)
		if i == first {
			kv, dv = rsv, rsv
		} else {
			kv = (float64(spec.SmoothK-1)*kv + rsv) / float64(spec.SmoothK)
			dv = (float64(spec.SmoothD-1)*dv + kv) / float64(spec.SmoothD)
		}
		k.set(i, kv)
		d.set(i, dv)
		j.set(i, 3*kv-2*dv)
	}
	if n > first {
		r.st.k, r.st.d, r.st.kdjReady = kv, dv, true
	}
	r.lines["k"], r.lines["d"], r.lines["j"] = k, d, j
}

// rawStochastic is the %RSV at index i: position of the close inside the
// window's high-low range, 50 when the range is flat.
func rawStochastic(highs, lows, closes []float64, i, window int) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for w := i - window + 1; w <= i; w++ {
		if highs[w] > hi {
			hi = highs[w]
		}
		if lows[w] < lo {
			lo = lows[w]
		}
	}
	if hi == lo {
		return 50
	}
	return (closes[i] - lo) / (hi - lo) * 100
}

func computeBOLL(r *Result, closes []float64, spec Spec) {
	n := len(closes)
	first := spec.Window - 1
	mid := newLine(n, first)
	upper := newLine(n, first)
	lower := newLine(n, first)

	for i := first; i < n; i++ {
		m, sd := meanStddev(closes[i-first : i+1])
		mid.set(i, m)
		upper.set(i, m+spec.Mult*sd)
		lower.set(i, m-spec.Mult*sd)
	}
	r.lines["mid"], r.lines["upper"], r.lines["lower"] = mid, upper, lower
}

// meanStddev returns the mean and sample standard deviation of vals.
func meanStddev(vals []float64) (float64, float64) {
	m := 0.0
	for _, v := range vals {
		m += v
	}
	m /= float64(len(vals))
	if len(vals) < 2 {
		return m, 0
	}
	ss := 0.0
	for _, v := range vals {
		ss += (v - m) * (v - m)
	}
	return m, math.Sqrt(ss / float64(len(vals)-1))
}

func computeATR(r *Result, series *market.Series, window int) {
	n := series.Len()
	trs := make([]float64, n)
	for i := 0; i < n; i++ {
		trs[i] = trueRange(series, i)
	}
	r.lines["value"] = rollingMean(trs, window)
}

// trueRange at index 0 has no prior close and degrades to high-low.
func trueRange(series *market.Series, i int) float64 {
	b := series.At(i)
	tr := b.High - b.Low
	if i > 0 {
		pc := series.At(i - 1).Close
		tr = math.Max(tr, math.Max(math.Abs(b.High-pc), math.Abs(b.Low-pc)))
	}
	return tr
}
