package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/barstore"
	"github.com/hexleaf/equity-screener/internal/market"
)

const (
	klinesEndpoint      = "/api/v1/klines"
	instrumentsEndpoint = "/api/v1/instruments"
)

// Client fetches bars and instrument metadata from the market-data provider
// over HTTP. It implements barstore.Store, translating HTTP status codes
// into the adapter's failure classes so retry and gating policy live in one
// place upstream.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a provider client against baseURL.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With().Str("component", "provider_client").Logger(),
	}
}

type kline struct {
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Fetch retrieves bars for the range, both bounds inclusive. 404 means the
// instrument or period does not exist, 429 means slow down, 5xx and
// transport failures are transient.
func (c *Client) Fetch(ctx context.Context, instrument string, period market.Period, from, to time.Time) (*market.Series, error) {
	q := url.Values{}
	q.Set("instrument", instrument)
	q.Set("period", string(period))
	q.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	q.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
	reqURL := c.baseURL + klinesEndpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch klines %s/%s: %v", barstore.ErrProvider, instrument, period, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch klines %s/%s: %w", instrument, period, err)
	}

	var klines []kline
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return nil, fmt.Errorf("%w: decode klines %s/%s: %v", barstore.ErrProvider, instrument, period, err)
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: no klines for %s/%s", barstore.ErrUnavailable, instrument, period)
	}

	bars := make([]market.Bar, len(klines))
	for i, k := range klines {
		bars[i] = market.Bar{
			Instrument: instrument,
			Period:     period,
			Timestamp:  time.UnixMilli(k.Timestamp).UTC(),
			Open:       k.Open,
			High:       k.High,
			Low:        k.Low,
			Close:      k.Close,
			Volume:     k.Volume,
		}
	}
	return market.NewSeries(instrument, period, bars)
}

// Instruments lists the tradable universe.
func (c *Client) Instruments(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+instrumentsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch instruments: %v", barstore.ErrProvider, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch instruments: %w", err)
	}

	var out struct {
		Instruments []string `json:"instruments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode instruments: %v", barstore.ErrProvider, err)
	}
	c.logger.Debug().Int("count", len(out.Instruments)).Msg("Fetched instrument universe")
	return out.Instruments, nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status 404", barstore.ErrUnavailable)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status 429", barstore.ErrRateLimited)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", barstore.ErrProvider, resp.StatusCode, string(body))
	}
}
