package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/search"
)

type redditArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
	TimeRange  string `json:"timeRange"`
}

var redditSchema = MustSchema(object([]string{"query"}, map[string]*jsonschema.Schema{
	"query":      str("What to look for in Reddit discussions."),
	"maxResults": integer("Number of threads to return. Default 10.", 1, 20),
	"timeRange":  enum("How far back to search. Default week.", "day", "week", "month", "year"),
}))

// RedditSearchTool searches Reddit threads through Tavily domain filtering.
type RedditSearchTool struct {
	tavily *search.TavilyClient
}

func NewRedditSearchTool(tavily *search.TavilyClient) *RedditSearchTool {
	return &RedditSearchTool{tavily: tavily}
}

func (t *RedditSearchTool) Name() string { return RedditSearch }

func (t *RedditSearchTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        RedditSearch,
		Description: "Search Reddit for community discussions, opinions and experiences.",
		Parameters:  redditSchema.Parameters(),
	}
}

func (t *RedditSearchTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args redditArgs
	if err := redditSchema.Decode(RedditSearch, raw, &args); err != nil {
		return Result{}, err
	}
	if args.MaxResults == 0 {
		args.MaxResults = defaultMaxResultsPerQuery
	}
	if args.TimeRange == "" {
		args.TimeRange = "week"
	}

	resp, err := t.tavily.Search(ctx, args.Query, search.TavilyOptions{
		SearchDepth:    "advanced",
		MaxResults:     args.MaxResults,
		TimeRange:      args.TimeRange,
		IncludeDomains: []string{"reddit.com"},
	})
	if err != nil {
		return Result{}, &ToolError{Tool: RedditSearch, Op: "search", Err: err}
	}

	results := DedupeResults(resp.Results)
	return Result{Kind: KindSearch, Search: &SearchResult{
		Source:     "reddit",
		Query:      args.Query,
		Results:    results,
		HasContent: len(results) > 0,
	}}, nil
}

const dateLayout = "2006-01-02"

type xArgs struct {
	Query      string `json:"query"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	MaxResults int    `json:"maxResults"`
}

var xSchema = MustSchema(object([]string{"query"}, map[string]*jsonschema.Schema{
	"query":      str("What to look for in posts on X."),
	"startDate":  {Type: "string", Description: "Earliest post date, YYYY-MM-DD. Default seven days ago.", Pattern: `^\d{4}-\d{2}-\d{2}$`},
	"endDate":    {Type: "string", Description: "Latest post date, YYYY-MM-DD. Default today.", Pattern: `^\d{4}-\d{2}-\d{2}$`},
	"maxResults": integer("Number of posts to return. Default 15.", 1, 25),
}))

// XSearchTool searches posts on X through Exa domain filtering.
type XSearchTool struct {
	exa *search.ExaClient
	now func() time.Time
}

func NewXSearchTool(exa *search.ExaClient) *XSearchTool {
	return &XSearchTool{exa: exa, now: time.Now}
}

func (t *XSearchTool) Name() string { return XSearch }

func (t *XSearchTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        XSearch,
		Description: "Search recent posts on X (Twitter) within a date range.",
		Parameters:  xSchema.Parameters(),
	}
}

func (t *XSearchTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args xArgs
	if err := xSchema.Decode(XSearch, raw, &args); err != nil {
		return Result{}, err
	}
	if args.MaxResults == 0 {
		args.MaxResults = 15
	}

	now := t.now().UTC()
	start, end := now.AddDate(0, 0, -7), now
	if args.StartDate != "" {
		d, err := time.Parse(dateLayout, args.StartDate)
		if err != nil {
			return Result{}, &ArgumentError{Tool: XSearch, Err: fmt.Errorf("startDate: %w", err)}
		}
		start = d
	}
	if args.EndDate != "" {
		d, err := time.Parse(dateLayout, args.EndDate)
		if err != nil {
			return Result{}, &ArgumentError{Tool: XSearch, Err: fmt.Errorf("endDate: %w", err)}
		}
		end = d.Add(24*time.Hour - time.Second)
	}
	if end.Before(start) {
		return Result{}, &ArgumentError{Tool: XSearch, Err: fmt.Errorf("endDate %s is before startDate %s", args.EndDate, args.StartDate)}
	}

	resp, err := t.exa.Search(ctx, args.Query, search.ExaOptions{
		NumResults:         args.MaxResults,
		IncludeDomains:     []string{"x.com", "twitter.com"},
		StartPublishedDate: start.Format(time.RFC3339),
		EndPublishedDate:   end.Format(time.RFC3339),
		MaxTextChars:       600,
	})
	if err != nil {
		return Result{}, &ToolError{Tool: XSearch, Op: "search", Err: err}
	}

	results := DedupeResults(resp.Results)
	return Result{Kind: KindSearch, Search: &SearchResult{
		Source:     "x",
		Query:      args.Query,
		Results:    results,
		HasContent: len(results) > 0,
	}}, nil
}
