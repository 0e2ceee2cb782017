package indicator

import "testing"

func TestParseKeyRoundTrip(t *testing.T) {
	specs := []Spec{
		MA(5),
		VMA(20),
		RSI(14),
		ATR(14),
		HHV(60),
		LLV(60),
		MACD(12, 26, 9),
		KDJ(9, 3, 3),
		BOLL(20, 2),
		BOLL(20, 2.5),
	}
	for _, want := range specs {
		t.Run(want.Key(), func(t *testing.T) {
			got, err := ParseKey(want.Key())
			if err != nil {
				t.Fatalf("ParseKey(%q) error = %v", want.Key(), err)
			}
			if got != want {
				t.Fatalf("ParseKey(%q) = %+v, want %+v", want.Key(), got, want)
			}
		})
	}
}

func TestParseKeyUppercaseKind(t *testing.T) {
	got, err := ParseKey("RSI(14)")
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	if got != RSI(14) {
		t.Fatalf("ParseKey() = %+v, want %+v", got, RSI(14))
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"ma",
		"ma()",
		"ma(abc)",
		"(5)",
		"ma(5",
		"sma(5)",
		"macd(12,26)",
		"kdj(9,3)",
		"boll(20)",
		"boll(x,2)",
		"boll(20,zero)",
		"ma(5,3)",
		"ma(0)",
		"macd(26,12,9)",
	}
	for _, raw := range cases {
		if _, err := ParseKey(raw); err == nil {
			t.Errorf("ParseKey(%q) expected error, got nil", raw)
		}
	}
}
