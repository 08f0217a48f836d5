package search

import (
	"context"
	"net/http"
	"strings"

	"github.com/failsafe-go/failsafe-go"
)

const defaultExaURL = "https://api.exa.ai"

// ExaOptions controls one Exa query.
type ExaOptions struct {
	Category           string
	NumResults         int
	IncludeDomains     []string
	StartPublishedDate string
	EndPublishedDate   string
	// MaxTextChars bounds the page text returned per hit; zero omits text.
	MaxTextChars int
	Summary      bool
}

// ExaClient implements the Exa neural search API.
type ExaClient struct {
	apiKey string
	apiURL string
	http   transport
}

func NewExaClient(apiKey, baseURL string, client *http.Client, executor failsafe.Executor[[]byte]) *ExaClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultExaURL
	}
	return &ExaClient{
		apiKey: strings.TrimSpace(apiKey),
		apiURL: strings.TrimRight(baseURL, "/") + "/search",
		http:   newTransport("exa", client, executor),
	}
}

func (c *ExaClient) Configured() bool { return c != nil && c.apiKey != "" }

type exaRequest struct {
	Query              string      `json:"query"`
	Type               string      `json:"type"`
	Category           string      `json:"category,omitempty"`
	NumResults         int         `json:"numResults,omitempty"`
	IncludeDomains     []string    `json:"includeDomains,omitempty"`
	StartPublishedDate string      `json:"startPublishedDate,omitempty"`
	EndPublishedDate   string      `json:"endPublishedDate,omitempty"`
	Contents           exaContents `json:"contents"`
}

type exaContents struct {
	Text    *exaText  `json:"text,omitempty"`
	Summary *struct{} `json:"summary,omitempty"`
}

type exaText struct {
	MaxCharacters int `json:"maxCharacters"`
}

type exaResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		PublishedDate string  `json:"publishedDate"`
		Author        string  `json:"author"`
		Score         float64 `json:"score"`
		Text          string  `json:"text"`
		Summary       string  `json:"summary"`
		Image         string  `json:"image"`
	} `json:"results"`
}

// Search executes a query against the Exa API. Content is the summary when
// one was requested and returned, otherwise the page text.
func (c *ExaClient) Search(ctx context.Context, query string, opts ExaOptions) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	reqBody := exaRequest{
		Query:              query,
		Type:               "auto",
		Category:           opts.Category,
		NumResults:         opts.NumResults,
		IncludeDomains:     opts.IncludeDomains,
		StartPublishedDate: opts.StartPublishedDate,
		EndPublishedDate:   opts.EndPublishedDate,
	}
	if opts.MaxTextChars > 0 {
		reqBody.Contents.Text = &exaText{MaxCharacters: opts.MaxTextChars}
	}
	if opts.Summary {
		reqBody.Contents.Summary = &struct{}{}
	}

	var decoded exaResponse
	if err := c.http.do(ctx, http.MethodPost, c.apiURL, map[string]string{"x-api-key": c.apiKey}, reqBody, &decoded); err != nil {
		return nil, err
	}

	out := &Response{Query: query, Results: make([]Result, 0, len(decoded.Results))}
	for _, item := range decoded.Results {
		content := strings.TrimSpace(item.Summary)
		if content == "" {
			content = strings.TrimSpace(item.Text)
		}
		out.Results = append(out.Results, Result{
			Title:         item.Title,
			URL:           item.URL,
			Content:       content,
			PublishedDate: item.PublishedDate,
			Author:        item.Author,
			Image:         item.Image,
			Score:         item.Score,
		})
	}
	return out, nil
}

