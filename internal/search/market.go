package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/failsafe-go/failsafe-go"
)

// Candle is one OHLCV bar.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Chart is a price series for one symbol.
type Chart struct {
	Symbol   string   `json:"symbol"`
	Currency string   `json:"currency,omitempty"`
	Name     string   `json:"name,omitempty"`
	Candles  []Candle `json:"candles"`
}

// MarketDataClient fetches price history from the market data service.
type MarketDataClient struct {
	baseURL string
	apiKey  string
	http    transport
}

func NewMarketDataClient(baseURL, apiKey string, client *http.Client, executor failsafe.Executor[[]byte]) *MarketDataClient {
	return &MarketDataClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http:    newTransport("market data", client, executor),
	}
}

func (c *MarketDataClient) Configured() bool { return c != nil && c.baseURL != "" }

// Chart fetches candles for symbol at the given interval over the given range
// (for example "1d" over "6mo").
func (c *MarketDataClient) Chart(ctx context.Context, symbol, interval, rng string) (*Chart, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("range", rng)

	var chart Chart
	headers := map[string]string{"X-API-Key": c.apiKey}
	if err := c.http.do(ctx, http.MethodGet, c.baseURL+"/chart?"+q.Encode(), headers, nil, &chart); err != nil {
		return nil, err
	}
	if chart.Symbol == "" {
		chart.Symbol = symbol
	}
	return &chart, nil
}
