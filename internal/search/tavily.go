package search

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/failsafe-go/failsafe-go"
)

const defaultTavilyURL = "https://api.tavily.com"

// Result is one normalized search hit.
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	PublishedDate string  `json:"publishedDate,omitempty"`
	Author        string  `json:"author,omitempty"`
	Image         string  `json:"image,omitempty"`
	Score         float64 `json:"score,omitempty"`
}

type Image struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Response is the outcome of one query.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Images  []Image  `json:"images,omitempty"`
}

// TavilyOptions controls one Tavily query.
type TavilyOptions struct {
	Topic          string
	SearchDepth    string
	MaxResults     int
	TimeRange      string
	IncludeDomains []string
	IncludeImages  bool
}

// TavilyClient implements the Tavily Search API.
type TavilyClient struct {
	apiKey string
	apiURL string
	http   transport
}

func NewTavilyClient(apiKey, baseURL string, client *http.Client, executor failsafe.Executor[[]byte]) *TavilyClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultTavilyURL
	}
	return &TavilyClient{
		apiKey: strings.TrimSpace(apiKey),
		apiURL: strings.TrimRight(baseURL, "/") + "/search",
		http:   newTransport("tavily", client, executor),
	}
}

// Configured reports whether an API key is present.
func (c *TavilyClient) Configured() bool { return c != nil && c.apiKey != "" }

type tavilyRequest struct {
	APIKey                   string   `json:"api_key"`
	Query                    string   `json:"query"`
	Topic                    string   `json:"topic,omitempty"`
	SearchDepth              string   `json:"search_depth,omitempty"`
	MaxResults               int      `json:"max_results,omitempty"`
	TimeRange                string   `json:"time_range,omitempty"`
	IncludeDomains           []string `json:"include_domains,omitempty"`
	IncludeImages            bool     `json:"include_images"`
	IncludeImageDescriptions bool     `json:"include_image_descriptions"`
	IncludeAnswer            bool     `json:"include_answer"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		RawContent    string  `json:"raw_content"`
		PublishedDate string  `json:"published_date"`
		Score         float64 `json:"score"`
	} `json:"results"`
	Images []tavilyImage `json:"images"`
}

// tavilyImage is either a bare URL or an object with a description.
type tavilyImage struct {
	URL         string
	Description string
}

func (i *tavilyImage) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &i.URL)
	}
	var obj struct {
		URL         string `json:"url"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	i.URL, i.Description = obj.URL, obj.Description
	return nil
}

// Search executes a query against the Tavily Search API.
func (c *TavilyClient) Search(ctx context.Context, query string, opts TavilyOptions) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	reqBody := tavilyRequest{
		APIKey:                   c.apiKey,
		Query:                    query,
		Topic:                    opts.Topic,
		SearchDepth:              opts.SearchDepth,
		MaxResults:               opts.MaxResults,
		TimeRange:                opts.TimeRange,
		IncludeDomains:           opts.IncludeDomains,
		IncludeImages:            opts.IncludeImages,
		IncludeImageDescriptions: opts.IncludeImages,
	}

	var decoded tavilyResponse
	if err := c.http.do(ctx, http.MethodPost, c.apiURL, nil, reqBody, &decoded); err != nil {
		return nil, err
	}

	out := &Response{Query: query, Results: make([]Result, 0, len(decoded.Results))}
	for _, item := range decoded.Results {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			content = strings.TrimSpace(item.RawContent)
		}
		out.Results = append(out.Results, Result{
			Title:         item.Title,
			URL:           item.URL,
			Content:       content,
			PublishedDate: item.PublishedDate,
			Score:         item.Score,
		})
	}
	for _, img := range decoded.Images {
		if img.URL == "" {
			continue
		}
		out.Images = append(out.Images, Image{URL: img.URL, Description: img.Description})
	}
	return out, nil
}
