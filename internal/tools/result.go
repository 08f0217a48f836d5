package tools

import (
	"encoding/json"
	"fmt"

	"github.com/af-corp/scout/internal/search"
	"github.com/af-corp/scout/internal/synthesis"
)

// Kind discriminates Result variants.
type Kind string

const (
	KindWeb    Kind = "web"
	KindSearch Kind = "search"
	KindVideo  Kind = "video"
	KindChart  Kind = "chart"
)

// Result is the tagged union every tool returns. Exactly one variant pointer
// matching Kind is set.
type Result struct {
	Kind   Kind
	Web    *WebResult
	Search *SearchResult
	Video  *VideoResult
	Chart  *ChartResult
}

// QueryResult groups the hits of one sub-query.
type QueryResult struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
	Images  []search.Image  `json:"images,omitempty"`
}

type WebResult struct {
	Searches          []QueryResult      `json:"searches"`
	SynthesizedReport *synthesis.Summary `json:"synthesizedReport"`
	HasContent        bool               `json:"hasContent"`
}

type SearchResult struct {
	Source     string          `json:"source"`
	Query      string          `json:"query"`
	Results    []search.Result `json:"results"`
	HasContent bool            `json:"hasContent"`
}

type Video struct {
	VideoID       string                `json:"videoId,omitempty"`
	URL           string                `json:"url"`
	Title         string                `json:"title"`
	Description   string                `json:"description,omitempty"`
	PublishedDate string                `json:"publishedDate,omitempty"`
	Metadata      *search.VideoMetadata `json:"metadata"`
}

type VideoResult struct {
	Query  string  `json:"query"`
	Videos []Video `json:"videos"`
}

type ChartResult struct {
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name,omitempty"`
	Currency   string          `json:"currency,omitempty"`
	Timeframe  Timeframe       `json:"timeframe"`
	Candles    []search.Candle `json:"candles"`
	Indicators Indicators      `json:"indicators"`
	Stats      ChartStats      `json:"stats"`
}

type Timeframe struct {
	Interval string `json:"interval"`
	Range    string `json:"range"`
}

// HasContent reports whether the result carries anything worth showing.
func (r Result) HasContent() bool {
	switch r.Kind {
	case KindWeb:
		return r.Web != nil && r.Web.HasContent
	case KindSearch:
		return r.Search != nil && r.Search.HasContent
	case KindVideo:
		return r.Video != nil && len(r.Video.Videos) > 0
	case KindChart:
		return r.Chart != nil && len(r.Chart.Candles) > 0
	}
	return false
}

func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindWeb:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*WebResult
		}{r.Kind, r.Web})
	case KindSearch:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*SearchResult
		}{r.Kind, r.Search})
	case KindVideo:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*VideoResult
		}{r.Kind, r.Video})
	case KindChart:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*ChartResult
		}{r.Kind, r.Chart})
	}
	return nil, fmt.Errorf("marshal tool result: unknown kind %q", r.Kind)
}
