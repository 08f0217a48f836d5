package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/search"
)

type chartArgs struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Range    string `json:"range"`
}

var chartSchema = MustSchema(object([]string{"symbol"}, map[string]*jsonschema.Schema{
	"symbol":   {Type: "string", Description: "Ticker symbol, for example AAPL or BTC-USD.", Pattern: `^[A-Za-z0-9.\-^=]{1,15}$`},
	"interval": enum("Candle interval. Default 1d.", "1h", "1d", "1wk", "1mo"),
	"range":    enum("History to fetch. Default 6mo.", "1mo", "3mo", "6mo", "1y", "2y", "5y"),
}))

// StockChartTool fetches price history and computes indicators locally.
type StockChartTool struct {
	market *search.MarketDataClient
}

func NewStockChartTool(market *search.MarketDataClient) *StockChartTool {
	return &StockChartTool{market: market}
}

func (t *StockChartTool) Name() string { return StockChart }

func (t *StockChartTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        StockChart,
		Description: "Fetch a price chart for a stock, ETF or crypto symbol with SMA, EMA and RSI indicators.",
		Parameters:  chartSchema.Parameters(),
	}
}

func (t *StockChartTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args chartArgs
	if err := chartSchema.Decode(StockChart, raw, &args); err != nil {
		return Result{}, err
	}
	args.Symbol = strings.ToUpper(args.Symbol)
	if args.Interval == "" {
		args.Interval = "1d"
	}
	if args.Range == "" {
		args.Range = "6mo"
	}

	chart, err := t.market.Chart(ctx, args.Symbol, args.Interval, args.Range)
	if err != nil {
		return Result{}, &ToolError{Tool: StockChart, Op: "fetch chart", Err: err}
	}
	candles := chart.Candles
	if candles == nil {
		candles = []search.Candle{}
	}

	return Result{Kind: KindChart, Chart: &ChartResult{
		Symbol:     chart.Symbol,
		Name:       chart.Name,
		Currency:   chart.Currency,
		Timeframe:  Timeframe{Interval: args.Interval, Range: args.Range},
		Candles:    candles,
		Indicators: computeIndicators(candles),
		Stats:      computeStats(candles),
	}}, nil
}
