package indicator

import (
	"fmt"
	"math"

	"github.com/hexleaf/equity-screener/internal/market"
)

// Extend appends one value to a previously computed result. series must be
// prev's input series plus exactly one trailing bar. The appended value is
// identical to what a from-scratch Compute over the longer series would
// produce; cost is O(1) for recurrence-based kinds and O(window) for the
// rest. prev is not mutated.
func Extend(prev *Result, series *market.Series) (*Result, error) {
	if series.Len() != prev.n+1 {
		return nil, fmt.Errorf("extend %s: series has %d bars, expected %d",
			prev.Spec.Key(), series.Len(), prev.n+1)
	}

	// Inside or just leaving the warm-up region the recurrence state is not
	// yet established; a recompute over the short series is cheap anyway.
	if prev.n < prev.Spec.MinBars() {
		return Compute(series, prev.Spec)
	}

	r := prev.clone()
	r.n = series.Len()
	i := r.n - 1

	switch r.Spec.Kind {
	case KindMA:
		r.lines["value"].appendVal(tailMean(series, market.FieldClose, r.Spec.Window), true)
	case KindVMA:
		r.lines["value"].appendVal(tailMean(series, market.FieldVolume, r.Spec.Window), true)
	case KindRSI:
		extendRSI(r, series, i)
	case KindMACD:
		extendMACD(r, series.At(i).Close)
	case KindKDJ:
		extendKDJ(r, series, i)
	case KindBOLL:
		m, sd := meanStddev(tailColumn(series, market.FieldClose, r.Spec.Window))
		r.lines["mid"].appendVal(m, true)
		r.lines["upper"].appendVal(m+r.Spec.Mult*sd, true)
		r.lines["lower"].appendVal(m-r.Spec.Mult*sd, true)
	case KindATR:
		extendATR(r, series, i)
	case KindHHV:
		r.lines["value"].appendVal(tailExtreme(series, market.FieldHigh, r.Spec.Window, true), true)
	case KindLLV:
		r.lines["value"].appendVal(tailExtreme(series, market.FieldLow, r.Spec.Window, false), true)
	}
	return r, nil
}

func tailExtreme(series *market.Series, f market.Field, window int, max bool) float64 {
	ext := series.At(series.Len() - window).Value(f)
	for i := series.Len() - window + 1; i < series.Len(); i++ {
		v := series.At(i).Value(f)
		if (max && v > ext) || (!max && v < ext) {
			ext = v
		}
	}
	return ext
}

func tailColumn(series *market.Series, f market.Field, window int) []float64 {
	out := make([]float64, window)
	for i := 0; i < window; i++ {
		out[i] = series.At(series.Len() - window + i).Value(f)
	}
	return out
}

func tailMean(series *market.Series, f market.Field, window int) float64 {
	sum := 0.0
	for i := series.Len() - window; i < series.Len(); i++ {
		sum += series.At(i).Value(f)
	}
	return sum / float64(window)
}

func extendRSI(r *Result, series *market.Series, i int) {
	w := float64(r.Spec.Window)
	d := series.At(i).Close - series.At(i-1).Close
	g, lo := 0.0, 0.0
	if d > 0 {
		g = d
	} else {
		lo = -d
	}
	r.st.avgGain = (r.st.avgGain*(w-1) + g) / w
	r.st.avgLoss = (r.st.avgLoss*(w-1) + lo) / w
	r.lines["value"].appendVal(rsiValue(r.st.avgGain, r.st.avgLoss), true)
}

func extendMACD(r *Result, close float64) {
	s := r.Spec
	r.st.emaFast += 2.0 / float64(s.Fast+1) * (close - r.st.emaFast)
	r.st.emaSlow += 2.0 / float64(s.Slow+1) * (close - r.st.emaSlow)
	dif := r.st.emaFast - r.st.emaSlow
	r.st.dea += 2.0 / float64(s.Signal+1) * (dif - r.st.dea)
	r.lines["dif"].appendVal(dif, true)
	r.lines["dea"].appendVal(r.st.dea, true)
	r.lines["macd"].appendVal(2*(dif-r.st.dea), true)
}

func extendKDJ(r *Result, series *market.Series, i int) {
	s := r.Spec
	lo, hi := math.Inf(1), math.Inf(-1)
	for w := i - s.Window + 1; w <= i; w++ {
		b := series.At(w)
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}
	rsv := 50.0
	if hi != lo {
		rsv = (series.At(i).Close - lo) / (hi - lo) * 100
	}
	r.st.k = (float64(s.SmoothK-1)*r.st.k + rsv) / float64(s.SmoothK)
	r.st.d = (float64(s.SmoothD-1)*r.st.d + r.st.k) / float64(s.SmoothD)
	r.lines["k"].appendVal(r.st.k, true)
	r.lines["d"].appendVal(r.st.d, true)
	r.lines["j"].appendVal(3*r.st.k-2*r.st.d, true)
}

func extendATR(r *Result, series *market.Series, i int) {
	sum := 0.0
	for w := i - r.Spec.Window + 1; w <= i; w++ {
		sum += trueRange(series, w)
	}
	r.lines["value"].appendVal(sum/float64(r.Spec.Window), true)
}
