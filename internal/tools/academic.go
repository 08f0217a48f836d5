package tools

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/search"
)

type academicArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
}

var academicSchema = MustSchema(object([]string{"query"}, map[string]*jsonschema.Schema{
	"query":      str("Research question or topic."),
	"maxResults": integer("Number of papers to return. Default 10.", 1, 20),
}))

var (
	summaryPrefix = regexp.MustCompile(`(?i)^\s*(summary|tl;dr)\s*:\s*`)
	// trailing boilerplate some abstracts end with
	summaryTrailer = regexp.MustCompile(`(?is)\s*(\(?\s*(read more|full text available|view pdf)[^)]*\)?\.?)\s*$`)
)

// cleanSummary strips a leading "Summary:" label and trailing boilerplate.
func cleanSummary(s string) string {
	s = summaryPrefix.ReplaceAllString(s, "")
	s = summaryTrailer.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// AcademicSearchTool searches research papers through Exa.
type AcademicSearchTool struct {
	exa *search.ExaClient
}

func NewAcademicSearchTool(exa *search.ExaClient) *AcademicSearchTool {
	return &AcademicSearchTool{exa: exa}
}

func (t *AcademicSearchTool) Name() string { return AcademicSearch }

func (t *AcademicSearchTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        AcademicSearch,
		Description: "Search academic papers and research publications. Returns titles, links, authors and summaries.",
		Parameters:  academicSchema.Parameters(),
	}
}

func (t *AcademicSearchTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args academicArgs
	if err := academicSchema.Decode(AcademicSearch, raw, &args); err != nil {
		return Result{}, err
	}
	if args.MaxResults == 0 {
		args.MaxResults = defaultMaxResultsPerQuery
	}

	resp, err := t.exa.Search(ctx, args.Query, search.ExaOptions{
		Category:     "research paper",
		NumResults:   args.MaxResults,
		Summary:      true,
		MaxTextChars: 1000,
	})
	if err != nil {
		return Result{}, &ToolError{Tool: AcademicSearch, Op: "search", Err: err}
	}

	results := DedupeResults(resp.Results)
	for i := range results {
		results[i].Content = cleanSummary(results[i].Content)
	}
	return Result{Kind: KindSearch, Search: &SearchResult{
		Source:     "academic",
		Query:      args.Query,
		Results:    results,
		HasContent: len(results) > 0,
	}}, nil
}
