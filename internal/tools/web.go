package tools

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/search"
	"github.com/af-corp/scout/internal/synthesis"
)

const defaultMaxResultsPerQuery = 10

// Synthesizer produces the optional report attached to web search results.
type Synthesizer interface {
	Synthesize(ctx context.Context, items []search.Result, queries []string) *synthesis.Summary
}

type webArgs struct {
	Queries     []string `json:"queries"`
	MaxResults  []int    `json:"maxResults"`
	Topics      []string `json:"topics"`
	SearchDepth string   `json:"searchDepth"`
}

var webSchema = MustSchema(object([]string{"queries"}, map[string]*jsonschema.Schema{
	"queries":     array("Search queries to run in parallel. Use several distinct phrasings for broad questions.", str(""), 1, 5),
	"maxResults":  array("Maximum results per query, aligned with queries. Default 10.", integer("", 1, 20), 0, 5),
	"topics":      array("Topic per query, aligned with queries. Default general.", enum("", "general", "news"), 0, 5),
	"searchDepth": enum("Search depth. Default basic.", "basic", "advanced"),
}))

// WebSearchTool fans queries out to Tavily, validates images, dedupes hits and
// attaches a synthesized report.
type WebSearchTool struct {
	tavily      *search.TavilyClient
	images      *ImageValidator
	synthesizer Synthesizer
}

func NewWebSearchTool(tavily *search.TavilyClient, images *ImageValidator, synthesizer Synthesizer) *WebSearchTool {
	return &WebSearchTool{tavily: tavily, images: images, synthesizer: synthesizer}
}

func (t *WebSearchTool) Name() string { return WebSearch }

func (t *WebSearchTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        WebSearch,
		Description: "Search the web for current information. Returns results grouped per query with an optional synthesized report.",
		Parameters:  webSchema.Parameters(),
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args webArgs
	if err := webSchema.Decode(WebSearch, raw, &args); err != nil {
		return Result{}, err
	}

	groups := make([]QueryResult, len(args.Queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range args.Queries {
		opts := search.TavilyOptions{
			Topic:         "general",
			SearchDepth:   "basic",
			MaxResults:    defaultMaxResultsPerQuery,
			IncludeImages: true,
		}
		if i < len(args.MaxResults) {
			opts.MaxResults = args.MaxResults[i]
		}
		if i < len(args.Topics) {
			opts.Topic = args.Topics[i]
		}
		if args.SearchDepth != "" {
			opts.SearchDepth = args.SearchDepth
		}
		g.Go(func() error {
			resp, err := t.tavily.Search(gctx, q, opts)
			if err != nil {
				return &ToolError{Tool: WebSearch, Op: "search " + q, Err: err}
			}
			groups[i] = QueryResult{
				Query:   q,
				Results: resp.Results,
				Images:  t.images.Filter(gctx, dedupeImages(resp.Images)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	groups = DedupeGroups(groups)

	var items []search.Result
	for _, grp := range groups {
		items = append(items, grp.Results...)
	}

	out := &WebResult{Searches: groups, HasContent: len(items) > 0}
	if out.HasContent && t.synthesizer != nil {
		out.SynthesizedReport = t.synthesizer.Synthesize(ctx, items, args.Queries)
	}
	return Result{Kind: KindWeb, Web: out}, nil
}
