package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hexleaf/equity-screener/internal/monitor"
)

func TestNotifierSendsEmbed(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier([]string{server.URL}, nil, zerolog.Nop())
	require.NoError(t, n.Publish(context.Background(), sampleAlert(monitor.TransitionEntered)))

	embeds, ok := payload["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	require.Contains(t, embed["title"], "ACME entered macd_golden_cross")
	require.Equal(t, float64(0x2ecc71), embed["color"])
}

func TestNotifierFormatPayload(t *testing.T) {
	n := NewNotifier(nil, nil, zerolog.Nop())

	tests := []struct {
		name       string
		transition monitor.Transition
		wantTitle  string
		wantColor  int
	}{
		{"entered is green", monitor.TransitionEntered, "ACME entered macd_golden_cross", 0x2ecc71},
		{"exited is red", monitor.TransitionExited, "ACME exited macd_golden_cross", 0xe74c3c},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := n.formatPayload(sampleAlert(tt.transition))
			embed := payload["embeds"].([]map[string]any)[0]
			require.Equal(t, tt.wantTitle, embed["title"])
			require.Equal(t, tt.wantColor, embed["color"])
		})
	}
}

func TestNotifierCooldownSuppressesRepeat(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cooldown := monitor.NewCooldown(nil, time.Minute, zerolog.Nop())
	n := NewNotifier([]string{server.URL}, cooldown, zerolog.Nop())

	alert := sampleAlert(monitor.TransitionEntered)
	require.NoError(t, n.Publish(context.Background(), alert))
	require.NoError(t, n.Publish(context.Background(), alert))
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestNotifierDeliveryFailureIsNotReturned(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer broken.Close()

	var delivered int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer healthy.Close()

	n := NewNotifier([]string{broken.URL, healthy.URL}, nil, zerolog.Nop())

	// One dead webhook neither fails Publish nor blocks the next URL.
	require.NoError(t, n.Publish(context.Background(), sampleAlert(monitor.TransitionEntered)))
	require.Equal(t, int32(1), atomic.LoadInt32(&delivered))
}

func TestNotifierDisabledWithoutURLs(t *testing.T) {
	n := NewNotifier(nil, nil, zerolog.Nop())
	require.NoError(t, n.Publish(context.Background(), sampleAlert(monitor.TransitionEntered)))
}
