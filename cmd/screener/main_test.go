package main

import (
	"testing"

	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/market"
)

func TestParseSortKey(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		key, err := parseSortKey("")
		if err != nil {
			t.Fatalf("parseSortKey() error = %v", err)
		}
		if key != nil {
			t.Fatalf("parseSortKey() = %+v, want nil", key)
		}
	})

	t.Run("bar field", func(t *testing.T) {
		key, err := parseSortKey("-volume")
		if err != nil {
			t.Fatalf("parseSortKey() error = %v", err)
		}
		if key.Price != market.FieldVolume || !key.Descending {
			t.Fatalf("parseSortKey() = %+v, want descending volume", key)
		}
	})

	t.Run("indicator primary line", func(t *testing.T) {
		key, err := parseSortKey("rsi(14)")
		if err != nil {
			t.Fatalf("parseSortKey() error = %v", err)
		}
		if key.Spec == nil || *key.Spec != indicator.RSI(14) {
			t.Fatalf("parseSortKey() spec = %+v, want rsi(14)", key.Spec)
		}
		if key.Line != "" || key.Descending {
			t.Fatalf("parseSortKey() = %+v, want ascending primary line", key)
		}
	})

	t.Run("indicator named line descending", func(t *testing.T) {
		key, err := parseSortKey("-macd(12,26,9).dif")
		if err != nil {
			t.Fatalf("parseSortKey() error = %v", err)
		}
		if key.Spec == nil || *key.Spec != indicator.MACD(12, 26, 9) {
			t.Fatalf("parseSortKey() spec = %+v, want macd(12,26,9)", key.Spec)
		}
		if key.Line != "dif" || !key.Descending {
			t.Fatalf("parseSortKey() = %+v, want descending dif line", key)
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		for _, raw := range []string{
			"momentum",
			"sma(5)",
			"macd(12,26,9).macdx",
			"rsi(14).",
			"rsi(14)dif",
			"ma(0)",
		} {
			if _, err := parseSortKey(raw); err == nil {
				t.Errorf("parseSortKey(%q) expected error, got nil", raw)
			}
		}
	})
}
