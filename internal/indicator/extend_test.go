package indicator

import (
	"math"
	"testing"
)

// TestExtendMatchesCompute grows a series bar by bar, extending the previous
// result each step, and checks every line against a from-scratch compute
// over the longer series.
func TestExtendMatchesCompute(t *testing.T) {
	specs := []Spec{
		MA(5), VMA(10), RSI(6), RSI(14),
		MACD(12, 26, 9), KDJ(9, 3, 3), BOLL(20, 2), ATR(14),
		HHV(10), LLV(10),
	}
	full := walkSeries(t, 80)

	for _, spec := range specs {
		t.Run(spec.Key(), func(t *testing.T) {
			prefix := full.Truncate(full.At(0).Timestamp)
			prev, err := Compute(prefix, spec)
			if err != nil {
				t.Fatalf("Compute(1 bar) error = %v", err)
			}

			for n := 2; n <= full.Len(); n++ {
				grown := full.Truncate(full.At(n - 1).Timestamp)
				extended, err := Extend(prev, grown)
				if err != nil {
					t.Fatalf("Extend at %d bars: %v", n, err)
				}
				fresh, err := Compute(grown, spec)
				if err != nil {
					t.Fatalf("Compute at %d bars: %v", n, err)
				}

				for _, line := range spec.LineNames() {
					for i := 0; i < n; i++ {
						ev, eerr := extended.ValueAt(line, i)
						fv, ferr := fresh.ValueAt(line, i)
						if (eerr == nil) != (ferr == nil) {
							t.Fatalf("%s[%s] at %d/%d: availability differs (extend %v, compute %v)",
								spec.Key(), line, i, n, eerr, ferr)
						}
						if eerr == nil && math.Abs(ev-fv) > 1e-9 {
							t.Fatalf("%s[%s] at %d/%d: extend %v != compute %v",
								spec.Key(), line, i, n, ev, fv)
						}
					}
				}
				prev = extended
			}
		})
	}
}

func TestExtendRejectsWrongLength(t *testing.T) {
	full := walkSeries(t, 20)
	short := full.Truncate(full.At(9).Timestamp)
	prev, err := Compute(short, MA(5))
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	// Same length and two-bar jumps are both invalid.
	if _, err := Extend(prev, short); err == nil {
		t.Error("Extend() with unchanged series, want error")
	}
	if _, err := Extend(prev, full.Truncate(full.At(11).Timestamp)); err == nil {
		t.Error("Extend() skipping a bar, want error")
	}
}

func TestExtendDoesNotMutatePrev(t *testing.T) {
	full := walkSeries(t, 30)
	short := full.Truncate(full.At(27).Timestamp)
	prev, err := Compute(short, MACD(12, 26, 9))
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	before, _ := prev.ValueAt("dif", short.Len()-1)

	if _, err := Extend(prev, full.Truncate(full.At(28).Timestamp)); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}

	after, _ := prev.ValueAt("dif", short.Len()-1)
	if before != after || prev.Len() != short.Len() {
		t.Error("Extend() mutated the previous result")
	}
}
