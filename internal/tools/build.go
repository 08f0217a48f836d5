package tools

import (
	"log/slog"
	"net/http"

	"github.com/af-corp/scout/internal/config"
	"github.com/af-corp/scout/internal/search"
)

// Build registers every tool whose upstream is configured. Tools left out are
// reported by Select as ErrToolUnavailable.
func Build(cfg config.ToolsConfig, synthesizer Synthesizer) *Registry {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	executor := search.NewExecutor(cfg.MaxRetries)

	tavily := search.NewTavilyClient(cfg.Tavily.APIKey, cfg.Tavily.BaseURL, client, executor)
	exa := search.NewExaClient(cfg.Exa.APIKey, cfg.Exa.BaseURL, client, executor)
	video := search.NewVideoMetadataClient(cfg.VideoMetadata.BaseURL, client, executor)
	market := search.NewMarketDataClient(cfg.MarketData.BaseURL, cfg.MarketData.APIKey, client, executor)

	registry := NewRegistry()
	if tavily.Configured() {
		registry.Register(NewWebSearchTool(tavily, NewImageValidator(&http.Client{}, cfg.ImageCheckTimeout), synthesizer))
		registry.Register(NewRedditSearchTool(tavily))
	}
	if exa.Configured() {
		registry.Register(NewAcademicSearchTool(exa))
		registry.Register(NewXSearchTool(exa))
		registry.Register(NewYouTubeSearchTool(exa, video))
	}
	if market.Configured() {
		registry.Register(NewStockChartTool(market))
	}

	slog.Info("tools configured", "tools", registry.Names())
	return registry
}
